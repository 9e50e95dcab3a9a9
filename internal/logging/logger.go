package logging

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewLogger creates a JSON logger tagged with the service name. An empty
// level means info.
func NewLogger(serviceName, level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
		config.Level = lvl
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithRequestID returns a logger with request_id field
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// WithDevice returns a logger scoped to a device descriptor
func WithDevice(logger *zap.Logger, deviceID uuid.UUID) *zap.Logger {
	return logger.With(zap.String("device_id", deviceID.String()))
}

// Drift logs a post-commit device failure that left the device out of sync
// with the committed local state.
func Drift(logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("condition", "drift"), zap.Error(err))
	logger.Error(msg, fields...)
}
