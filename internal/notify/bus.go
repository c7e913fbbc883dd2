// Package notify implements the in-process cross-role notification bus.
// Doctor-side and front-desk-side listeners subscribe per role and
// receive only status updates originated by the opposite role.
package notify

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Role is one of the two addressable audiences of the bus.
type Role string

const (
	RoleDoctor    Role = "doctor"
	RoleFrontDesk Role = "front-desk"
)

// Opposite returns the role a status update from this role is routed to.
func (r Role) Opposite() (Role, bool) {
	switch r {
	case RoleDoctor:
		return RoleFrontDesk, true
	case RoleFrontDesk:
		return RoleDoctor, true
	default:
		return "", false
	}
}

// Actor identifies who performed a status change.
type Actor struct {
	Role Role   `json:"role"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// PatientStatusUpdate is the transient event carried by the bus. It
// exists only for the duration of delivery and is never stored.
type PatientStatusUpdate struct {
	AppointmentID  string            `json:"appointment_id"`
	PatientID      string            `json:"patient_id"`
	PatientName    string            `json:"patient_name"`
	PreviousStatus AppointmentStatus `json:"previous_status"`
	NewStatus      AppointmentStatus `json:"new_status"`
	Timestamp      time.Time         `json:"timestamp"`
	UpdatedBy      Actor             `json:"updated_by"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Listener receives status updates for the role it subscribed under.
// A returned error is logged and isolated; it never reaches the
// publisher or the other listeners.
type Listener interface {
	Notify(update PatientStatusUpdate) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(update PatientStatusUpdate) error

// Notify calls f.
func (f ListenerFunc) Notify(update PatientStatusUpdate) error { return f(update) }

// Stats holds bus delivery counters.
type Stats struct {
	Published int64
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Bus routes patient status updates between the doctor and front-desk
// roles. Construct with NewBus at application start; the bus holds no
// delivery history, so listeners registered after a publish never see
// that event.
type Bus struct {
	mu        sync.Mutex
	listeners map[Role][]Listener
	logger    *zap.Logger
	stats     Stats
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		listeners: map[Role][]Listener{
			RoleDoctor:    {},
			RoleFrontDesk: {},
		},
		logger: logger,
	}
}

// Subscribe registers a listener for a role. Listeners are invoked in
// subscription order.
func (b *Bus) Subscribe(role Role, l Listener) error {
	if _, ok := role.Opposite(); !ok {
		return fmt.Errorf("unknown role: %s", role)
	}
	if l == nil {
		return fmt.Errorf("listener is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[role] = append(b.listeners[role], l)
	return nil
}

// Unsubscribe removes the first matching listener reference for a role.
// Unknown listeners are a no-op.
func (b *Bus) Unsubscribe(role Role, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	registered := b.listeners[role]
	for i, existing := range registered {
		if sameListener(existing, l) {
			b.listeners[role] = append(registered[:i:i], registered[i+1:]...)
			return
		}
	}
}

// sameListener matches listener references by identity. Func-backed
// listeners (ListenerFunc) are matched by code pointer since func
// values are not comparable.
func sameListener(a, b Listener) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}

// Publish delivers the update to every listener of the role opposite
// the updater's, in subscription order. Delivery is synchronous; a
// failing or panicking listener is logged and skipped, and the
// remaining listeners still receive the update. Updates from an
// unknown role are dropped.
func (b *Bus) Publish(update PatientStatusUpdate) {
	target, ok := update.UpdatedBy.Role.Opposite()

	b.mu.Lock()
	b.stats.Published++
	if !ok {
		b.stats.Dropped++
		b.mu.Unlock()
		b.logger.Warn("status update from unknown role dropped",
			zap.String("role", string(update.UpdatedBy.Role)),
			zap.String("appointment_id", update.AppointmentID))
		return
	}
	// Snapshot under the lock so a subscribe during delivery cannot
	// change this publish's recipient set or ordering.
	recipients := make([]Listener, len(b.listeners[target]))
	copy(recipients, b.listeners[target])
	b.mu.Unlock()

	for _, l := range recipients {
		b.deliver(l, target, update)
	}
}

func (b *Bus) deliver(l Listener, target Role, update PatientStatusUpdate) {
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			b.stats.Failed++
			b.mu.Unlock()
			b.logger.Error("listener panicked during delivery",
				zap.String("role", string(target)),
				zap.String("appointment_id", update.AppointmentID),
				zap.Any("panic", r))
		}
	}()

	if err := l.Notify(update); err != nil {
		b.mu.Lock()
		b.stats.Failed++
		b.mu.Unlock()
		b.logger.Error("listener delivery failed",
			zap.String("role", string(target)),
			zap.String("appointment_id", update.AppointmentID),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	b.stats.Delivered++
	b.mu.Unlock()
}

// Stats returns current delivery counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// SubscriberCount returns the number of listeners registered for a role.
func (b *Bus) SubscriberCount(role Role) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[role])
}

// Close drops all listener registrations. Publishes after Close deliver
// to nobody.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = map[Role][]Listener{
		RoleDoctor:    {},
		RoleFrontDesk: {},
	}
}
