package pipeline

// Status is the terminal outcome of a test.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusUnknown Status = "UNKNOWN"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusUnknown:
		return true
	}
	return false
}
