package startup

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
)

type closer struct {
	name string
	fn   func()
}

// Lifecycle collects deregistration handles and runs them in reverse order
// of registration.
type Lifecycle struct {
	logger *logging.Logger

	mu      sync.Mutex
	closers []closer
	closed  bool
}

// NewLifecycle creates an empty lifecycle.
func NewLifecycle(logger *logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Lifecycle{logger: logger}
}

// Add registers fn. If the lifecycle is already closed fn runs immediately.
func (l *Lifecycle) Add(name string, fn func()) {
	if fn == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.run(closer{name: name, fn: fn})
		return
	}
	l.closers = append(l.closers, closer{name: name, fn: fn})
	l.mu.Unlock()
}

// Close runs every registered handle once, last registered first.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	closers := l.closers
	l.closers = nil
	l.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		l.run(closers[i])
	}
}

func (l *Lifecycle) run(c closer) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Deregistration panicked",
				zap.String("listener", c.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	c.fn()
	l.logger.Debug("Deregistered listener", zap.String("listener", c.name))
}
