package booking

// transitions is the full table of permitted status edges.
var transitions = map[Status][]Status{
	StatusRequested:   {StatusBroadcasted, StatusAccepted, StatusCancelled},
	StatusBroadcasted: {StatusAccepted, StatusCancelled},
	StatusAccepted:    {StatusOnTheWay, StatusCancelled},
	StatusOnTheWay:    {StatusReached},
	StatusReached:     {StatusInProgress},
	StatusInProgress:  {StatusCompleted},
}

// ActiveStatuses are the statuses in which a technician holds a job.
var ActiveStatuses = []Status{StatusAccepted, StatusOnTheWay, StatusReached, StatusInProgress}

// OpenStatuses are the statuses in which a job can still be accepted.
var OpenStatuses = []Status{StatusRequested, StatusBroadcasted}

// CancellableStatuses are the statuses a customer may cancel from.
var CancellableStatuses = []Status{StatusRequested, StatusBroadcasted, StatusAccepted}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing edges.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Predecessor returns the status a technician-driven advance to s must come
// from. Only on_the_way, reached, in_progress and completed have one.
func Predecessor(s Status) (Status, bool) {
	switch s {
	case StatusOnTheWay:
		return StatusAccepted, true
	case StatusReached:
		return StatusOnTheWay, true
	case StatusInProgress:
		return StatusReached, true
	case StatusCompleted:
		return StatusInProgress, true
	default:
		return "", false
	}
}

// Started reports whether the technician has begun travelling or working.
func Started(s Status) bool {
	switch s {
	case StatusOnTheWay, StatusReached, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}
