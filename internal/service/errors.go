package service

import "fmt"

// The analyzer distinguishes five failure classes. Only ConfigurationError
// aborts a run; everything else is isolated to the affected photos, which
// stay pending in the process sheet for a later retry run.

// ConfigurationError reports an unknown package id or a malformed task
// declaration. Fatal to the whole run.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// TransientGatewayError reports a failed direct call or batch submission
// (network, rate limit, provider 5xx). Isolated to the affected sub-batch.
type TransientGatewayError struct {
	Op  string
	Err error
}

func (e *TransientGatewayError) Error() string {
	return fmt.Sprintf("transient gateway error during %s: %v", e.Op, e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

// BatchTimeoutError reports a submitted batch that never reached a terminal
// state within the poll budget. Its photos remain pending.
type BatchTimeoutError struct {
	BatchID string
	Polls   int
}

func (e *BatchTimeoutError) Error() string {
	return fmt.Sprintf("batch %s did not complete after %d polls", e.BatchID, e.Polls)
}

// ParseError reports a gateway response that could not be parsed into the
// expected structured shape. The sub-request's photos are routed to the
// direct-API fallback.
type ParseError struct {
	CustomID string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse response for %s: %v", e.CustomID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError reports a rejected photo store commit. The affected
// photos are not marked completed and will be retried on the next run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
