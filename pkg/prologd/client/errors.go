package client

import (
	"errors"
	"fmt"

	"github.com/cognicore/prologd/pkg/prologd/rpc"
)

// ErrInvalidOperation reports a call that does not fit the query's state,
// such as opening a query twice
var ErrInvalidOperation = errors.New("invalid operation")

// InvalidIdentifierError reports a query identifier the service does not
// know, typically because the session was closed or drained
type InvalidIdentifierError struct {
	ID string
}

func (e *InvalidIdentifierError) Error() string {
	if e.ID == "" {
		return "invalid query identifier"
	}
	return fmt.Sprintf("invalid query identifier %q", e.ID)
}

// QueryFailedError carries the service's description of a failed query
type QueryFailedError struct {
	Description string
}

func (e *QueryFailedError) Error() string {
	return "query failed: " + e.Description
}

// TimeoutError reports a read the service gave up on before the query
// answered. The query is still open and may be read again.
type TimeoutError struct {
	ID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query %q did not answer before the service timed out the read", e.ID)
}

// DeserializationError reports a solution the client could not decode
type DeserializationError struct {
	Description string
}

func (e *DeserializationError) Error() string {
	return "failed to deserialize solution: " + e.Description
}

// UnknownResponseError reports a status code outside the protocol
type UnknownResponseError struct {
	Status rpc.Status
}

func (e *UnknownResponseError) Error() string {
	return fmt.Sprintf("unknown response status %d", int(e.Status))
}

// ServiceCallError reports a call that did not reach the service or got
// no protocol answer
type ServiceCallError struct {
	Service string
	Err     error
}

func (e *ServiceCallError) Error() string {
	return fmt.Sprintf("failed to call service %s: %v", e.Service, e.Err)
}

func (e *ServiceCallError) Unwrap() error { return e.Err }

// checkStatus maps a protocol status other than NoSolutions to an error
func checkStatus(status rpc.Status, id, description string) error {
	switch status {
	case rpc.OK:
		return nil
	case rpc.InvalidID:
		return &InvalidIdentifierError{ID: id}
	case rpc.Failed:
		return &QueryFailedError{Description: description}
	case rpc.Timeout:
		return &TimeoutError{ID: id}
	}
	return &UnknownResponseError{Status: status}
}
