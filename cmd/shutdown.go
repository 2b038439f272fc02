package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type stopStep struct {
	name string
	run  func(ctx context.Context) error
}

// stopSequence runs its steps one after another under a single deadline.
// A failing step is logged and the rest still run.
type stopSequence struct {
	steps   []stopStep
	timeout time.Duration
}

func (s stopSequence) Run(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var errs []error
	for _, step := range s.steps {
		if err := step.run(ctx); err != nil {
			slog.Warn("shutdown step failed", "step", step.name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		slog.Debug("shutdown step done", "step", step.name)
	}
	return errors.Join(errs...)
}

// within runs a blocking stop function, giving up when ctx is done.
func within(ctx context.Context, stop func(), force func()) error {
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if force != nil {
			force()
		}
		return ctx.Err()
	}
}
