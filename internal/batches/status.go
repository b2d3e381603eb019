package batches

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:         0,
	StatusProcessing:      1,
	StatusCompleted:       2,
	StatusPartiallyFailed: 2,
	StatusFailed:          2,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartiallyFailed || s == StatusFailed
}

// CanAdvance reports whether moving from s to next respects the status machine.
// Staying in place is allowed; leaving a terminal status is not.
func (s Status) CanAdvance(next Status) bool {
	if s == next {
		return true
	}
	if s.Terminal() || !next.Valid() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// SubState is the lifecycle state of a sub-batch.
type SubState string

const (
	SubSubmitted SubState = "submitted"
	SubIngested  SubState = "ingested"
	SubFailed    SubState = "failed"
)

// Settled reports whether the sub-batch needs no further reconciliation.
func (s SubState) Settled() bool {
	return s == SubIngested || s == SubFailed
}
