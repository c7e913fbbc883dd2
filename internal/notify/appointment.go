package notify

// AppointmentStatus tracks front-desk/doctor coordination for one
// visit. It is a separate lifecycle from the treatment workflow.
type AppointmentStatus string

const (
	AppointmentScheduled     AppointmentStatus = "scheduled"
	AppointmentCheckedIn     AppointmentStatus = "checked-in"
	AppointmentInProgress    AppointmentStatus = "in-progress"
	AppointmentCompleted     AppointmentStatus = "completed"
	AppointmentReadyCheckout AppointmentStatus = "ready-checkout"
	AppointmentCheckedOut    AppointmentStatus = "checked-out"
	AppointmentCancelled     AppointmentStatus = "cancelled"
	AppointmentNoShow        AppointmentStatus = "no-show"
)

// appointmentNext maps each status to its forward successor.
var appointmentNext = map[AppointmentStatus]AppointmentStatus{
	AppointmentScheduled:     AppointmentCheckedIn,
	AppointmentCheckedIn:     AppointmentInProgress,
	AppointmentInProgress:    AppointmentCompleted,
	AppointmentCompleted:     AppointmentReadyCheckout,
	AppointmentReadyCheckout: AppointmentCheckedOut,
}

// preCompletion reports whether a visit can still be cancelled or
// marked no-show.
func preCompletion(s AppointmentStatus) bool {
	switch s {
	case AppointmentScheduled, AppointmentCheckedIn, AppointmentInProgress:
		return true
	}
	return false
}

// CanTransition reports whether an appointment may move from one status
// to another: one step forward along the visit lifecycle, or to
// cancelled/no-show from any pre-completion status.
func CanTransition(from, to AppointmentStatus) bool {
	if to == AppointmentCancelled || to == AppointmentNoShow {
		return preCompletion(from)
	}
	return appointmentNext[from] == to
}
