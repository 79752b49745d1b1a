package models

// BookingEvent names what drives a booking transition.
type BookingEvent string

const (
	EventStart     BookingEvent = "start"
	EventComplete  BookingEvent = "complete"
	EventCancel    BookingEvent = "cancel"
	EventInterrupt BookingEvent = "interrupt"
)

// BookingTransition is a single allowed edge of the booking state machine.
type BookingTransition struct {
	From  BookingStatus
	To    BookingStatus
	Event BookingEvent
}

var bookingTransitions = []BookingTransition{
	{From: BookingScheduled, To: BookingInProgress, Event: EventStart},
	{From: BookingInProgress, To: BookingCompleted, Event: EventComplete},

	{From: BookingScheduled, To: BookingCancelled, Event: EventCancel},
	{From: BookingInProgress, To: BookingCancelled, Event: EventCancel},

	// interrupt is issued by control operations only
	{From: BookingScheduled, To: BookingInterrupted, Event: EventInterrupt},
	{From: BookingInProgress, To: BookingInterrupted, Event: EventInterrupt},
}

// TransitionFor returns the edge leaving from on ev.
func TransitionFor(from BookingStatus, ev BookingEvent) (BookingTransition, bool) {
	for _, tr := range bookingTransitions {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return BookingTransition{}, false
}
