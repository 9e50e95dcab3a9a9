package device

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig configures the per-device circuit breaker
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	OpenTimeout      time.Duration
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		// a rejected command proves the device is reachable
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnreachable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("device circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// breakerAdapter short-circuits calls to a device that keeps timing out.
// An open circuit is reported as ErrUnreachable.
type breakerAdapter struct {
	next Adapter
	cb   *gobreaker.CircuitBreaker[any]
}

func (b *breakerAdapter) do(op string, fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, unreachable(op, err)
	}
	return result, err
}

func (b *breakerAdapter) exec(op string, fn func() error) error {
	_, err := b.do(op, func() (any, error) {
		return nil, fn()
	})
	return err
}

func (b *breakerAdapter) CreateCredential(ctx context.Context, c Credential) error {
	return b.exec("credential.add", func() error { return b.next.CreateCredential(ctx, c) })
}

func (b *breakerAdapter) UpdateCredential(ctx context.Context, name string, c Credential) error {
	return b.exec("credential.set", func() error { return b.next.UpdateCredential(ctx, name, c) })
}

func (b *breakerAdapter) DeleteCredential(ctx context.Context, name string) error {
	return b.exec("credential.remove", func() error { return b.next.DeleteCredential(ctx, name) })
}

func (b *breakerAdapter) EnableCredential(ctx context.Context, name string) error {
	return b.exec("credential.enable", func() error { return b.next.EnableCredential(ctx, name) })
}

func (b *breakerAdapter) DisableCredential(ctx context.Context, name string) error {
	return b.exec("credential.disable", func() error { return b.next.DisableCredential(ctx, name) })
}

func (b *breakerAdapter) CreateProfile(ctx context.Context, p Profile) error {
	return b.exec("profile.add", func() error { return b.next.CreateProfile(ctx, p) })
}

func (b *breakerAdapter) UpdateProfile(ctx context.Context, name string, p Profile) error {
	return b.exec("profile.set", func() error { return b.next.UpdateProfile(ctx, name, p) })
}

func (b *breakerAdapter) DeleteProfile(ctx context.Context, name string) error {
	return b.exec("profile.remove", func() error { return b.next.DeleteProfile(ctx, name) })
}

func (b *breakerAdapter) FindActiveSession(ctx context.Context, name string) (*Session, error) {
	result, err := b.do("session.find", func() (any, error) {
		return b.next.FindActiveSession(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	session, _ := result.(*Session)
	return session, nil
}

func (b *breakerAdapter) ListCredentials(ctx context.Context) ([]Credential, error) {
	result, err := b.do("credential.print", func() (any, error) {
		return b.next.ListCredentials(ctx)
	})
	if err != nil {
		return nil, err
	}
	credentials, _ := result.([]Credential)
	return credentials, nil
}

func (b *breakerAdapter) ListProfiles(ctx context.Context) ([]Profile, error) {
	result, err := b.do("profile.print", func() (any, error) {
		return b.next.ListProfiles(ctx)
	})
	if err != nil {
		return nil, err
	}
	profiles, _ := result.([]Profile)
	return profiles, nil
}
