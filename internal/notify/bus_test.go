package notify

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// recorder is a test listener that captures delivered updates.
type recorder struct {
	mu      sync.Mutex
	updates []PatientStatusUpdate
	fail    error
	panics  bool
}

func (r *recorder) Notify(update PatientStatusUpdate) error {
	if r.panics {
		panic("listener blew up")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return r.fail
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func doctorUpdate(appointmentID string) PatientStatusUpdate {
	return PatientStatusUpdate{
		AppointmentID:  appointmentID,
		PatientID:      "patient-1",
		PatientName:    "Jane Roe",
		PreviousStatus: AppointmentInProgress,
		NewStatus:      AppointmentCompleted,
		Timestamp:      time.Now().UTC(),
		UpdatedBy:      Actor{Role: RoleDoctor, ID: "dr-lee"},
	}
}

func TestPublishReachesOppositeRoleOnly(t *testing.T) {
	bus := NewBus(nil)
	frontDesk := &recorder{}
	doctor := &recorder{}

	if err := bus.Subscribe(RoleFrontDesk, frontDesk); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.Subscribe(RoleDoctor, doctor); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	bus.Publish(doctorUpdate("appt-1"))

	if frontDesk.count() != 1 {
		t.Errorf("front-desk deliveries = %d, want 1", frontDesk.count())
	}
	if doctor.count() != 0 {
		t.Errorf("doctor-originated update echoed back to %d doctor listeners", doctor.count())
	}
}

func TestPublishFrontDeskReachesDoctors(t *testing.T) {
	bus := NewBus(nil)
	doctor := &recorder{}
	bus.Subscribe(RoleDoctor, doctor)

	update := doctorUpdate("appt-2")
	update.UpdatedBy = Actor{Role: RoleFrontDesk, ID: "fd-ana"}
	bus.Publish(update)

	if doctor.count() != 1 {
		t.Errorf("doctor deliveries = %d, want 1", doctor.count())
	}
}

func TestDeliveryOrderIsSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		bus.Subscribe(RoleFrontDesk, ListenerFunc(func(PatientStatusUpdate) error {
			order = append(order, name)
			return nil
		}))
	}

	bus.Publish(doctorUpdate("appt-3"))
	bus.Publish(doctorUpdate("appt-4"))

	want := []string{"first", "second", "third", "first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("deliveries = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("deliveries = %v, want %v", order, want)
		}
	}
}

func TestUnsubscribeMidSequence(t *testing.T) {
	bus := NewBus(nil)
	a := &recorder{}
	b := &recorder{}
	bus.Subscribe(RoleFrontDesk, a)
	bus.Subscribe(RoleFrontDesk, b)

	bus.Publish(doctorUpdate("appt-5"))
	bus.Unsubscribe(RoleFrontDesk, a)
	bus.Publish(doctorUpdate("appt-6"))

	if a.count() != 1 {
		t.Errorf("unsubscribed listener deliveries = %d, want 1", a.count())
	}
	if b.count() != 2 {
		t.Errorf("remaining listener deliveries = %d, want 2", b.count())
	}
}

func TestUnsubscribeUnknownListenerIsNoop(t *testing.T) {
	bus := NewBus(nil)
	a := &recorder{}
	bus.Subscribe(RoleFrontDesk, a)

	bus.Unsubscribe(RoleFrontDesk, &recorder{})
	bus.Unsubscribe(RoleDoctor, a)

	if bus.SubscriberCount(RoleFrontDesk) != 1 {
		t.Error("no-op unsubscribe changed the registry")
	}
}

func TestListenerFailureIsIsolated(t *testing.T) {
	bus := NewBus(nil)
	failing := &recorder{fail: errors.New("display offline")}
	panicking := &recorder{panics: true}
	healthy := &recorder{}

	bus.Subscribe(RoleFrontDesk, failing)
	bus.Subscribe(RoleFrontDesk, panicking)
	bus.Subscribe(RoleFrontDesk, healthy)

	bus.Publish(doctorUpdate("appt-7"))

	if healthy.count() != 1 {
		t.Errorf("healthy listener deliveries = %d, want 1", healthy.count())
	}

	stats := bus.Stats()
	if stats.Failed != 2 {
		t.Errorf("failed deliveries = %d, want 2", stats.Failed)
	}
	if stats.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", stats.Delivered)
	}
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	bus := NewBus(nil)
	bus.Publish(doctorUpdate("appt-8"))

	late := &recorder{}
	bus.Subscribe(RoleFrontDesk, late)
	if late.count() != 0 {
		t.Error("late subscriber must not receive past events")
	}
}

func TestSubscribeUnknownRole(t *testing.T) {
	bus := NewBus(nil)
	if err := bus.Subscribe(Role("billing"), &recorder{}); err == nil {
		t.Error("subscribing an unknown role should fail")
	}
}

func TestPublishUnknownRoleDropped(t *testing.T) {
	bus := NewBus(nil)
	fd := &recorder{}
	bus.Subscribe(RoleFrontDesk, fd)

	update := doctorUpdate("appt-9")
	update.UpdatedBy.Role = Role("billing")
	bus.Publish(update)

	if fd.count() != 0 {
		t.Error("update from unknown role must not be delivered")
	}
	if bus.Stats().Dropped != 1 {
		t.Errorf("dropped = %d, want 1", bus.Stats().Dropped)
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	bus := NewBus(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe(RoleFrontDesk, &recorder{})
		}()
		go func() {
			defer wg.Done()
			bus.Publish(doctorUpdate("appt-c"))
		}()
	}
	wg.Wait()

	if bus.SubscriberCount(RoleFrontDesk) != 20 {
		t.Errorf("subscriber count = %d, want 20", bus.SubscriberCount(RoleFrontDesk))
	}
}

func TestAppointmentTransitions(t *testing.T) {
	valid := []struct{ from, to AppointmentStatus }{
		{AppointmentScheduled, AppointmentCheckedIn},
		{AppointmentCheckedIn, AppointmentInProgress},
		{AppointmentInProgress, AppointmentCompleted},
		{AppointmentCompleted, AppointmentReadyCheckout},
		{AppointmentReadyCheckout, AppointmentCheckedOut},
		{AppointmentScheduled, AppointmentCancelled},
		{AppointmentInProgress, AppointmentNoShow},
	}
	for _, tt := range valid {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("%s -> %s should be allowed", tt.from, tt.to)
		}
	}

	invalid := []struct{ from, to AppointmentStatus }{
		{AppointmentScheduled, AppointmentInProgress},
		{AppointmentCompleted, AppointmentCancelled},
		{AppointmentReadyCheckout, AppointmentNoShow},
		{AppointmentCheckedOut, AppointmentScheduled},
		{AppointmentCancelled, AppointmentCheckedIn},
	}
	for _, tt := range invalid {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("%s -> %s should be rejected", tt.from, tt.to)
		}
	}
}
