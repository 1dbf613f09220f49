package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule determines when a job runs next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("@every %v", s.every)
}

type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily %02d:%02d", s.hour, s.minute)
}

type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), from.Hour(), s.minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly :%02d", s.minute)
}

// EveryInterval runs at fixed intervals.
func EveryInterval(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// DailyAt runs once a day at hour:minute in the scheduler's time zone (UTC).
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

// HourlyAt runs every hour at the given minute.
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: minute}
}

// ParseSchedule reads the config form of a schedule:
//
//	@every 15m
//	@hourly | hourly :05
//	@daily  | daily 03:00
func ParseSchedule(s string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSchedule)
	}

	switch fields[0] {
	case "@every", "every":
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %q: interval must be a positive duration", ErrInvalidSchedule, s)
		}
		return EveryInterval(d), nil

	case "@hourly":
		return HourlyAt(0), nil

	case "hourly":
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		minute, err := strconv.Atoi(strings.TrimPrefix(fields[1], ":"))
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("%w: %q: minute must be 0-59", ErrInvalidSchedule, s)
		}
		return HourlyAt(minute), nil

	case "@daily":
		return DailyAt(0, 0), nil

	case "daily":
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		at, err := time.Parse("15:04", fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: time must be HH:MM", ErrInvalidSchedule, s)
		}
		return DailyAt(at.Hour(), at.Minute()), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
}

// DefaultSchedules returns the schedule of every billing job.
func DefaultSchedules() map[string]Schedule {
	return map[string]Schedule{
		CheckTrialExpiration:  EveryInterval(15 * time.Minute),
		CheckPeriodExpiration: EveryInterval(15 * time.Minute),
		CheckGracePeriod:      HourlyAt(5),
		FinalizeCancellations: EveryInterval(15 * time.Minute),
		ExpireAbandoned:       DailyAt(3, 30),
		SendRenewalReminders:  DailyAt(9, 0),
		ExpirePixCharges:      EveryInterval(5 * time.Minute),
		MarkOverdueInvoices:   HourlyAt(10),
		ResetUsageCounters:    DailyAt(0, 5),
		RetryFailedWebhooks:   EveryInterval(time.Minute),
	}
}
