package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// FlowState is a state of the device authorization flow.
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowAwaitingUserAction
	FlowPolling
	FlowSucceeded
	FlowExpired
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowIdle:
		return "idle"
	case FlowAwaitingUserAction:
		return "awaiting_user_action"
	case FlowPolling:
		return "polling"
	case FlowSucceeded:
		return "succeeded"
	case FlowExpired:
		return "expired"
	case FlowFailed:
		return "failed"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s FlowState) Terminal() bool {
	return s == FlowSucceeded || s == FlowExpired || s == FlowFailed
}

// Clock schedules the flow's wakeups.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// deviceFlow polls the token endpoint until the user approves the device,
// the device code expires or an unexpected error occurs.
type deviceFlow struct {
	clock    Clock
	logger   *slog.Logger
	poll     func(ctx context.Context) (*Token, error)
	onChange func(FlowState)

	state    FlowState
	interval time.Duration
	deadline time.Time
}

func newDeviceFlow(clock Clock, logger *slog.Logger, da *DeviceAuthorization, poll func(context.Context) (*Token, error), onChange func(FlowState)) *deviceFlow {
	interval := da.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &deviceFlow{
		clock:    clock,
		logger:   logger,
		poll:     poll,
		onChange: onChange,
		state:    FlowIdle,
		interval: interval,
		deadline: clock.Now().Add(da.ExpiresIn),
	}
}

func (f *deviceFlow) transition(to FlowState) {
	f.logger.Debug("device flow transition", "from", f.state, "to", to)
	f.state = to
	if f.onChange != nil {
		f.onChange(to)
	}
}

func (f *deviceFlow) run(ctx context.Context) (*Token, error) {
	f.transition(FlowAwaitingUserAction)
	wait := f.interval

	for {
		if !f.clock.Now().Before(f.deadline) {
			f.transition(FlowExpired)
			return nil, ErrDeviceAuthorizationExpired
		}

		select {
		case <-ctx.Done():
			f.transition(FlowFailed)
			return nil, ctx.Err()
		case <-f.clock.After(wait):
		}

		f.transition(FlowPolling)
		tok, err := f.poll(ctx)
		switch {
		case err == nil:
			f.transition(FlowSucceeded)
			return tok, nil
		case errors.Is(err, ErrAuthorizationPending):
			wait = f.interval
		case errors.Is(err, ErrSlowDown):
			wait = f.interval + SlowDownPenalty
		case errors.Is(err, ErrDeviceCodeExpired):
			f.transition(FlowExpired)
			return nil, ErrDeviceAuthorizationExpired
		default:
			f.transition(FlowFailed)
			return nil, err
		}
		f.transition(FlowAwaitingUserAction)
	}
}
