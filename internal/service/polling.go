package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
)

var ErrFatalStatus = errors.New("provider reported a fatal status")

// PollPolicy bounds a status poll by attempt count, not wall clock.
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
	Terminal    []string
	Fatal       []string
}

// StatusFunc fetches the current provider status. attempt starts at 1.
type StatusFunc func(ctx context.Context, attempt int) (string, error)

// Await calls fetch until it reports a terminal or fatal status. It returns
// ErrPollTimeout after exactly MaxAttempts fetches without one.
func (p PollPolicy) Await(ctx context.Context, fetch StatusFunc) (string, error) {
	var status string
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		var err error
		status, err = fetch(ctx, attempt)
		if err != nil {
			return status, err
		}
		if slices.Contains(p.Terminal, status) {
			return status, nil
		}
		if slices.Contains(p.Fatal, status) {
			return status, fmt.Errorf("%w: %s", ErrFatalStatus, status)
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return status, ctx.Err()
		case <-timer.C:
		}
	}
	return status, ErrPollTimeout
}

func pollPolicy(p config.Polling, terminal, fatal []string) PollPolicy {
	return PollPolicy{
		Interval:    p.Interval,
		MaxAttempts: p.MaxAttempts,
		Terminal:    terminal,
		Fatal:       fatal,
	}
}
