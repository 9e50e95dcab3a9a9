package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnreachable covers transport failures and timeouts. Safe to retry.
	ErrUnreachable = errors.New("device unreachable")
	// ErrCommandFailed means the device rejected the operation.
	ErrCommandFailed = errors.New("device command failed")
	// ErrObjectNotFound means a find-before-mutate lookup came back empty.
	ErrObjectNotFound = errors.New("device object not found")
)

// Error carries the failing operation and one of the kinds above
type Error struct {
	Op   string
	Kind error
	Err  error

	settled <-chan struct{}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TimedOut reports a call that stopped being waited for while it may still
// reach the device. settled is closed once the call returns.
func TimedOut(op string, err error, settled <-chan struct{}) error {
	return &Error{Op: op, Kind: ErrUnreachable, Err: err, settled: settled}
}

// Settled returns the channel closed when the timed-out call behind err
// returns, or nil when err carries no call still in flight.
func Settled(err error) <-chan struct{} {
	var e *Error
	if errors.As(err, &e) {
		return e.settled
	}
	return nil
}

func unreachable(op string, err error) error {
	return &Error{Op: op, Kind: ErrUnreachable, Err: err}
}

func commandFailed(op string, err error) error {
	return &Error{Op: op, Kind: ErrCommandFailed, Err: err}
}

func notFound(op, name string) error {
	return &Error{Op: op, Kind: ErrObjectNotFound, Err: fmt.Errorf("%q", name)}
}

// bounded runs fn and stops waiting once timeout elapses. fn itself is not
// interrupted: its connection is still closed by fn when the device answers,
// and the outcome of a timed-out call is unknown to the caller until
// Settled(err) is closed.
func bounded(ctx context.Context, timeout time.Duration, op string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	settled := make(chan struct{})
	go func() {
		defer close(settled)
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return TimedOut(op, ctx.Err(), settled)
	}
}
