package monitor

import "time"

// Timer is a handle to a scheduled task. Stop cancels the task and reports
// whether it was still pending.
type Timer interface {
	Stop() bool
}

// Scheduler runs a function once after a delay. The returned handle is the
// only way to cancel it, which keeps teardown explicit and testable.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// SystemScheduler returns a Scheduler backed by time.AfterFunc.
func SystemScheduler() Scheduler {
	return systemScheduler{}
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
