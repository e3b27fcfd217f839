package accounts

import "fmt"

// Status is the ground-truth account state reported by the account service
type Status string

const (
	StatusOpen         Status = "open"
	StatusClosed       Status = "closed"
	StatusTOSViolation Status = "tosViolation"

	// StatusUnknown marks a player that was never resolved or does not exist
	StatusUnknown Status = ""
)

// Known reports whether s is one of the resolved statuses
func (s Status) Known() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusTOSViolation:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	if s == StatusUnknown {
		return "unknown"
	}
	return string(s)
}

// ParseStatus accepts the labels written by the account service and exports
func ParseStatus(v string) (Status, error) {
	switch v {
	case "open":
		return StatusOpen, nil
	case "closed", "disabled":
		return StatusClosed, nil
	case "tosViolation", "tos_violation":
		return StatusTOSViolation, nil
	case "", "unknown":
		return StatusUnknown, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown account status %q", v)
	}
}
