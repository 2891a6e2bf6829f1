package core

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher runs fire-and-forget side effects as supervised detached
// goroutines. Panics are recovered and failures logged; nothing ever
// propagates back to the request that triggered the task.
type Dispatcher struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a background task dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger}
}

// Go dispatches one named task. The task receives a fresh context so
// it outlives the request that triggered it.
func (d *Dispatcher) Go(name string, task func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		task(context.Background())
	}()
}

// Wait blocks until all dispatched tasks finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
