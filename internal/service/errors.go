package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/septivank/pppoe-provisioning-worker/internal/validator"
	"go.uber.org/zap"
)

var (
	// ErrValidation marks bad caller input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition is returned for a contract status change the
	// lifecycle does not allow
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCredentialAttached is returned when deleting a credential that a
	// contract still points at
	ErrCredentialAttached = errors.New("credential is attached to a contract")
)

func validationError(r validator.ValidationResult) error {
	return fmt.Errorf("%w: %s", ErrValidation, r.Reason)
}

// Dispatcher publishes committed outbox tasks
type Dispatcher interface {
	Flush(ctx context.Context) (int, error)
}

// dispatch runs right after a commit. Failures only delay delivery until the
// next relay sweep, so they are logged and not returned.
func dispatch(ctx context.Context, d Dispatcher, logger *zap.Logger) {
	if _, err := d.Flush(ctx); err != nil {
		logger.Warn("device tasks left for the next outbox sweep", zap.Error(err))
	}
}
