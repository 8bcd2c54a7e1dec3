package viewer

type Event int

const (
	// EventStop asks the frame loop to finish the frame in progress and
	// return.
	EventStop Event = iota
)

func (e Event) String() string {
	switch e {
	case EventStop:
		return "stop"
	}
	return "unknown"
}

// drainEvents consumes every pending event without blocking and reports
// whether the loop should stop. A closed channel counts as a stop request.
func drainEvents(events <-chan Event) bool {
	stop := false
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return true
			}
			if event == EventStop {
				stop = true
			}
		default:
			return stop
		}
	}
}
