// Package deployment holds the client-side model of a deployment attempt:
// its status values, the events delivered over the log stream and the
// helpers that turn raw log text into ordered lines.
package deployment

import "strings"

// Status is the lifecycle state reported by the backend for a deployment
type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusConfiguring  Status = "configuring"
	StatusBuilding     Status = "building"
	StatusDeploying    Status = "deploying"
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"

	// StatusUnknown stands in for values this client does not recognise.
	// It is treated as in-progress.
	StatusUnknown Status = "unknown"
)

var knownStatuses = map[Status]struct{}{
	StatusPending:      {},
	StatusProvisioning: {},
	StatusConfiguring:  {},
	StatusBuilding:     {},
	StatusDeploying:    {},
	StatusSuccess:      {},
	StatusFailed:       {},
	StatusCancelled:    {},
}

// ParseStatus normalises a status string from the backend.
// Unrecognised values map to StatusUnknown instead of failing.
func ParseStatus(s string) Status {
	normalized := Status(strings.ToLower(strings.TrimSpace(s)))
	if normalized == "" {
		return ""
	}
	if _, ok := knownStatuses[normalized]; ok {
		return normalized
	}
	// The backend has used "canceled" in older payloads
	if normalized == "canceled" {
		return StatusCancelled
	}
	return StatusUnknown
}

// IsTerminal reports whether no further transition can happen without a new attempt
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsKnown reports whether s is one of the documented status values
func (s Status) IsKnown() bool {
	_, ok := knownStatuses[s]
	return ok
}

func (s Status) String() string {
	if s == "" {
		return "-"
	}
	return string(s)
}
