package vto

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop cancels the task. It returns false if the task already ran or
	// was stopped.
	Stop() bool
}

// Scheduler runs f after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Runner executes blocking boot steps off the controller loop.
type Runner interface {
	Submit(task func()) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(task func()) error

// Submit calls f.
func (f RunnerFunc) Submit(task func()) error {
	return f(task)
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler returns a Scheduler backed by time.AfterFunc.
func SystemScheduler() Scheduler {
	return realScheduler{}
}

// GoRunner runs each task on a new goroutine.
func GoRunner() Runner {
	return RunnerFunc(func(task func()) error {
		go task()
		return nil
	})
}

// timerSet tracks the timers of one boot attempt.
type timerSet struct {
	mu     sync.Mutex
	timers []Timer
}

func (s *timerSet) add(t Timer) {
	s.mu.Lock()
	s.timers = append(s.timers, t)
	s.mu.Unlock()
}

// stopAll cancels every tracked timer and returns how many were still
// pending.
func (s *timerSet) stopAll() int {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	pending := 0
	for _, t := range timers {
		if t.Stop() {
			pending++
		}
	}
	return pending
}
