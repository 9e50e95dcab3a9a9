package device

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultAPIPort = 8728
	defaultSSHPort = 22
)

// Factory builds a fresh Adapter per device call site. Connections are not
// shared; only circuit breaker state survives between adapters of the same
// device.
type Factory struct {
	timeout  time.Duration
	breaker  BreakerConfig
	logger   *zap.Logger
	mu       sync.Mutex
	breakers map[uuid.UUID]*gobreaker.CircuitBreaker[any]
}

// NewFactory creates an adapter factory
func NewFactory(timeout time.Duration, breaker BreakerConfig, logger *zap.Logger) *Factory {
	return &Factory{
		timeout:  timeout,
		breaker:  breaker,
		logger:   logger,
		breakers: make(map[uuid.UUID]*gobreaker.CircuitBreaker[any]),
	}
}

// ForDevice returns the adapter matching the descriptor's protocol
func (f *Factory) ForDevice(d *db.Device) (Adapter, error) {
	logger := f.logger.With(zap.String("device_id", d.ID.String()))

	var adapter Adapter
	switch d.Protocol {
	case db.ProtocolAPI, "":
		adapter = NewAPIAdapter(address(d.Host, d.ControlPort, defaultAPIPort), d.AdminUser, d.AdminSecret, f.timeout, logger)
	case db.ProtocolSSH:
		adapter = NewShellAdapter(address(d.Host, d.ControlPort, defaultSSHPort), d.AdminUser, d.AdminSecret, f.timeout, logger)
	default:
		return nil, fmt.Errorf("unsupported device protocol %q", d.Protocol)
	}

	if !f.breaker.Enabled {
		return adapter, nil
	}
	return &breakerAdapter{next: adapter, cb: f.breakerFor(d.ID)}, nil
}

func (f *Factory) breakerFor(id uuid.UUID) *gobreaker.CircuitBreaker[any] {
	f.mu.Lock()
	defer f.mu.Unlock()

	cb, ok := f.breakers[id]
	if !ok {
		cb = newBreaker("device-"+id.String(), f.breaker, f.logger)
		f.breakers[id] = cb
	}
	return cb
}

func address(host string, port, fallback int) string {
	if port <= 0 {
		port = fallback
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
