package state

type RecordStatus string

const (
	StatusPending  RecordStatus = "pending"
	StatusInFlight RecordStatus = "in_flight"
	StatusFailed   RecordStatus = "failed"
	StatusDone     RecordStatus = "done"
)

func (s RecordStatus) String() string {
	return string(s)
}

// Terminal reports whether a record in this status is finished as far as the
// dispatcher is concerned. Failed records stay terminal until a user
// explicitly retries or discards them.
func (s RecordStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

var AllStatuses = []RecordStatus{
	StatusPending,
	StatusInFlight,
	StatusFailed,
	StatusDone,
}

type Transition struct {
	From RecordStatus
	To   RecordStatus
}

var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusInFlight},
	{From: StatusInFlight, To: StatusDone},
	{From: StatusInFlight, To: StatusPending},
	{From: StatusInFlight, To: StatusFailed},
	{From: StatusFailed, To: StatusPending},
}

func IsValidTransition(from, to RecordStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
