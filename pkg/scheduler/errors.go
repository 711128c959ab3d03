package scheduler

import "errors"

var (
	ErrNoJobs               = errors.New("scheduler has no registered jobs")
	ErrJobAlreadyRegistered = errors.New("job already registered")
	ErrInvalidJob           = errors.New("job requires a name, a schedule and a function")
	ErrAlreadyRunning       = errors.New("scheduler already running")
)
