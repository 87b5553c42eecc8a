package domain

// Status is the processing state of an uploaded video.
type Status string

// Video status constants
const (
	StatusPending    Status = "pending"
	StatusAnalyzing  Status = "analyzing"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Sensitivity is the content classification set by the moderation subsystem.
type Sensitivity string

// Sensitivity constants
const (
	SensitivitySafe    Sensitivity = "safe"
	SensitivityFlagged Sensitivity = "flagged"
	SensitivityUnknown Sensitivity = "unknown"
)

// statusRank orders the forward path. failed is handled separately.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusAnalyzing:  1,
	StatusProcessing: 2,
	StatusReady:      3,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a raw value into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// CanTransition reports whether a video may move from one status to another.
// Moves are strictly forward along pending → analyzing → processing → ready,
// or from any non-terminal status to failed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return statusRank[to] > statusRank[from]
}
