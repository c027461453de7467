package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/compliance-gate/internal/pkg/logger"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert kinds.
const (
	KindLockdown        = "lockdown"
	KindLockdownWarning = "lockdown_warning"
	KindLockdownCleared = "lockdown_resolved"
	KindEmergencyStop   = "emergency_stop"
)

// Alert is one notification.
type Alert struct {
	Severity Severity               `json:"severity"`
	Kind     string                 `json:"kind"`
	Subject  string                 `json:"subject"`
	Body     string                 `json:"body"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	At       time.Time              `json:"at"`
}

// Notifier delivers an alert.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Noop discards alerts.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Alert) error { return nil }

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers to every notifier, even after a failure.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher delivers alerts asynchronously. Its Notify never blocks on the
// underlying sink and always returns nil.
type Dispatcher struct {
	next    Notifier
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewDispatcher wraps next. timeout bounds each delivery.
func NewDispatcher(next Notifier, timeout time.Duration) *Dispatcher {
	if next == nil {
		next = Noop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{next: next, timeout: timeout, now: time.Now}
}

// Notify schedules delivery and returns immediately.
func (d *Dispatcher) Notify(_ context.Context, a Alert) error {
	if a.At.IsZero() {
		a.At = d.now().UTC()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// Detached from the caller so request cancellation does not drop it.
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.next.Notify(ctx, a); err != nil {
			logger.Warn("alert delivery failed", "kind", a.Kind, "severity", string(a.Severity), "error", err)
		}
	}()
	return nil
}

// Wait blocks until scheduled deliveries finish. Used at shutdown and in tests.
func (d *Dispatcher) Wait() { d.wg.Wait() }
