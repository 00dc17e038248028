package scheduler

import "errors"

var (
	ErrJobAlreadyRegistered = errors.New("scheduler: job already registered")
	ErrJobNotFound          = errors.New("scheduler: job not found")
	ErrJobRunning           = errors.New("scheduler: job is already running")
	ErrNoJobs               = errors.New("scheduler: no jobs registered")
	ErrInvalidJob           = errors.New("scheduler: job needs a name, a schedule and a function")
	ErrJobPanicked          = errors.New("scheduler: job panicked")
)
