package jobs

import "errors"

var (
	ErrJobNotFound          = errors.New("billing job not found")
	ErrJobRunning           = errors.New("billing job is already running")
	ErrJobAlreadyRegistered = errors.New("billing job already registered")
	ErrInvalidSchedule      = errors.New("invalid job schedule")
	ErrNoJobs               = errors.New("scheduler has no jobs")
)
