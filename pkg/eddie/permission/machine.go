package permission

import (
	"fmt"
	"strings"
)

// InvalidTransitionError reports a transition that is not present in the
// lifecycle graph. It carries everything a caller needs to present a
// precise conflict message: the current status, the requested one, and
// the full set of statuses the requested one is reachable from.
type InvalidTransitionError struct {
	Current   Status
	Requested Status
	Allowed   []Status
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("transition %s -> %s not allowed, next statuses are [%s]",
		e.Current, e.Requested, strings.Join(allowed, ", "))
}

// Transition validates a requested status change against the lifecycle
// graph. It is pure: no persistence, no publication, no side effects.
// On success it returns the requested status; on rejection it returns an
// *InvalidTransitionError listing the statuses reachable from current.
func Transition(current, requested Status) (Status, error) {
	st, ok := graph[current]
	if !ok {
		return "", &InvalidTransitionError{
			Current:   current,
			Requested: requested,
		}
	}
	if _, ok := st.next[requested]; !ok {
		return "", &InvalidTransitionError{
			Current:   current,
			Requested: requested,
			Allowed:   sortedStatuses(st.next),
		}
	}
	return requested, nil
}

// ValidateRevocation checks the shared revocation gate: a permission may
// only be revoked from ACCEPTED, WAITING_FOR_START or STREAMING_DATA.
func ValidateRevocation(current Status) error {
	if !Revocable(current) {
		return &InvalidTransitionError{
			Current:   current,
			Requested: StatusRevoked,
			Allowed:   RevocableStatuses(),
		}
	}
	return nil
}
