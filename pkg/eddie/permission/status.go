// Package permission holds the permission-request lifecycle: the status
// enumeration, the fixed transition graph, the pure state machine that
// validates transitions, the immutable lifecycle events, and the
// read-model projection derived from them.
//
// The state machine never persists or publishes anything; callers commit
// the validated transition through the event log. The projection is a
// derived view and is rebuilt from the log, never written to directly.
package permission

import "fmt"

// Status is the lifecycle status of a permission request.
type Status string

// Lifecycle statuses shared across connector families.
const (
	StatusCreated          Status = "CREATED"
	StatusValidated        Status = "VALIDATED"
	StatusMalformed        Status = "MALFORMED"
	StatusUnableToSend     Status = "UNABLE_TO_SEND"
	StatusSentToPA         Status = "SENT_TO_PERMISSION_ADMINISTRATOR"
	StatusTimedOut         Status = "TIMED_OUT"
	StatusInvalid          Status = "INVALID"
	StatusRejected         Status = "REJECTED"
	StatusAccepted         Status = "ACCEPTED"
	StatusWaitingForStart  Status = "WAITING_FOR_START"
	StatusStreamingData    Status = "STREAMING_DATA"
	StatusFailedToStart    Status = "FAILED_TO_START"
	StatusFulfilled        Status = "FULFILLED"
	StatusRevoked          Status = "REVOKED"
	StatusTerminated       Status = "TERMINATED"
	StatusUnfulfillable    Status = "UNFULFILLABLE"
	StatusRequiresExternal Status = "REQUIRES_EXTERNAL_TERMINATION"
	StatusFailedToTerm     Status = "FAILED_TO_TERMINATE"
	StatusExternallyTerm   Status = "EXTERNALLY_TERMINATED"
)

// String returns the wire form of the status.
func (s Status) String() string { return string(s) }

// state describes one node of the transition graph.
type state struct {
	final bool
	next  map[Status]struct{}
}

func to(statuses ...Status) map[Status]struct{} {
	m := make(map[Status]struct{}, len(statuses))
	for _, s := range statuses {
		m[s] = struct{}{}
	}
	return m
}

// graph is the fixed transition graph shared by the connector families.
// Final states with outgoing edges (FULFILLED, TERMINATED, UNFULFILLABLE)
// can still exit to REQUIRES_EXTERNAL_TERMINATION when the permission
// administrator must be told about the end of the permission.
var graph = map[Status]state{
	StatusCreated:   {next: to(StatusValidated, StatusMalformed)},
	StatusMalformed: {final: true},
	StatusValidated: {next: to(StatusSentToPA, StatusUnableToSend)},
	StatusUnableToSend: {
		next: to(StatusValidated, StatusTimedOut),
	},
	StatusSentToPA: {
		next: to(StatusTimedOut, StatusInvalid, StatusRejected, StatusAccepted),
	},
	StatusTimedOut: {final: true},
	StatusInvalid:  {final: true},
	StatusRejected: {final: true},
	StatusAccepted: {
		next: to(StatusWaitingForStart, StatusStreamingData, StatusFailedToStart,
			StatusFulfilled, StatusTerminated, StatusUnfulfillable, StatusRevoked),
	},
	StatusWaitingForStart: {
		next: to(StatusStreamingData, StatusFailedToStart, StatusRevoked, StatusTerminated),
	},
	StatusStreamingData: {
		next: to(StatusFulfilled, StatusRevoked, StatusTerminated),
	},
	StatusFailedToStart: {final: true},
	StatusFulfilled:     {final: true, next: to(StatusRequiresExternal)},
	StatusTerminated:    {final: true, next: to(StatusRequiresExternal)},
	StatusUnfulfillable: {final: true, next: to(StatusRequiresExternal)},
	StatusRevoked:       {final: true},
	StatusRequiresExternal: {
		next: to(StatusExternallyTerm, StatusFailedToTerm),
	},
	StatusFailedToTerm:   {next: to(StatusRequiresExternal)},
	StatusExternallyTerm: {final: true},
}

// revocable holds the statuses from which a revocation is permitted.
var revocable = to(StatusAccepted, StatusWaitingForStart, StatusStreamingData)

// Known reports whether s is part of the lifecycle graph.
func Known(s Status) bool {
	_, ok := graph[s]
	return ok
}

// IsFinal reports whether s is a terminal status. A final status may
// still allow the external-termination exit; IsFinal refers to the
// permission's data-sharing lifetime being over.
func IsFinal(s Status) bool {
	st, ok := graph[s]
	return ok && st.final
}

// Revocable reports whether a request in status s may be revoked.
func Revocable(s Status) bool {
	_, ok := revocable[s]
	return ok
}

// Next returns the statuses reachable from s, in lexical order.
func Next(s Status) []Status {
	st, ok := graph[s]
	if !ok {
		return nil
	}
	return sortedStatuses(st.next)
}

// RevocableStatuses returns the statuses a revocation is allowed from,
// in lexical order. Used for conflict messages.
func RevocableStatuses() []Status {
	return sortedStatuses(revocable)
}

func sortedStatuses(set map[Status]struct{}) []Status {
	out := make([]Status, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// MustStatus converts a wire string into a Status, panicking on unknown
// values. Intended for wiring code with compile-time-known inputs.
func MustStatus(raw string) Status {
	s := Status(raw)
	if !Known(s) {
		panic(fmt.Sprintf("unknown permission status %q", raw))
	}
	return s
}
