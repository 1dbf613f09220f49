package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job names are stable: they are used in schedules, triggers, audit entries and the API.
const (
	CheckTrialExpiration  = "check_trial_expiration"
	CheckPeriodExpiration = "check_period_expiration"
	CheckGracePeriod      = "check_grace_period"
	FinalizeCancellations = "finalize_cancellations"
	ExpireAbandoned       = "expire_abandoned"
	SendRenewalReminders  = "send_renewal_reminders"
	ExpirePixCharges      = "expire_pix_charges"
	MarkOverdueInvoices   = "mark_overdue_invoices"
	ResetUsageCounters    = "reset_usage_counters"
	RetryFailedWebhooks   = "retry_failed_webhooks"
)

// RunOptions are the inputs of one run. Now drives selection and trigger keys.
type RunOptions struct {
	Now    time.Time
	DryRun bool
}

// Job is an idempotent sweep. Per-item failures are reported in the Report;
// the returned error is for failures that stop the whole run.
type Job interface {
	Name() string
	Run(ctx context.Context, opts RunOptions) (Report, error)
}

// OutcomeStatus is what happened to one swept item.
type OutcomeStatus string

const (
	OutcomeApplied    OutcomeStatus = "applied"
	OutcomeSkipped    OutcomeStatus = "skipped"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeWouldApply OutcomeStatus = "would_apply"
)

// Outcome describes one swept item.
type Outcome struct {
	ID       string        `json:"id"`
	TenantID uuid.UUID     `json:"tenant_id,omitempty"`
	Action   string        `json:"action"`
	Status   OutcomeStatus `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Report summarizes one run.
type Report struct {
	Job           string    `json:"job"`
	DryRun        bool      `json:"dry_run"`
	AffectedCount int       `json:"affected_count"`
	FailedCount   int       `json:"failed_count"`
	Affected      []Outcome `json:"affected"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

func newReport(name string, opts RunOptions) Report {
	return Report{Job: name, DryRun: opts.DryRun, Affected: []Outcome{}, StartedAt: opts.Now}
}

func (r *Report) add(o Outcome) {
	r.Affected = append(r.Affected, o)
	switch o.Status {
	case OutcomeApplied, OutcomeWouldApply:
		r.AffectedCount++
	case OutcomeFailed:
		r.FailedCount++
	}
}

// Count returns the number of outcomes with status s.
func (r Report) Count(s OutcomeStatus) int {
	n := 0
	for _, o := range r.Affected {
		if o.Status == s {
			n++
		}
	}
	return n
}

// jobFunc is a Job built from a name and a function.
type jobFunc struct {
	name string
	run  func(ctx context.Context, rep *Report, opts RunOptions) error
	now  func() time.Time
}

func (j *jobFunc) Name() string { return j.name }

func (j *jobFunc) Run(ctx context.Context, opts RunOptions) (Report, error) {
	if opts.Now.IsZero() {
		opts.Now = j.now()
	}
	opts.Now = opts.Now.UTC()
	rep := newReport(j.name, opts)
	err := j.run(ctx, &rep, opts)
	rep.FinishedAt = j.now().UTC()
	return rep, err
}
