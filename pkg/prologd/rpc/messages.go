// Package rpc carries the query service over HTTP with JSON bodies.
//
// Every operation is a POST under /prolog/. Protocol conditions such as an
// unknown query identifier travel as a Status in a 200 response; HTTP error
// codes are reserved for malformed requests.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cognicore/prologd/pkg/prologd/serialization"
	"github.com/cognicore/prologd/pkg/prologd/server"
	"github.com/cognicore/prologd/pkg/prologd/term"
)

// Status is the outcome of a solution or close request
type Status int

const (
	OK Status = iota
	InvalidID
	Failed
	NoSolutions
	// Timeout reports a read that ended before the query answered; the
	// session stays open
	Timeout
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case InvalidID:
		return "invalid_id"
	case Failed:
		return "failed"
	case NoSolutions:
		return "no_solutions"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Endpoint paths
const (
	PathOpenQuery       = "/prolog/open_query"
	PathHasSolution     = "/prolog/has_solution"
	PathGetNextSolution = "/prolog/get_next_solution"
	PathGetAllSolutions = "/prolog/get_all_solutions"
	PathCloseQuery      = "/prolog/close_query"
	PathHealth          = "/prolog/health"
)

// HeaderRequestID correlates a request with the server's log lines
const HeaderRequestID = "X-Request-Id"

type OpenQueryRequest struct {
	Query  string        `json:"query"`
	Format server.Format `json:"format"`
	Mode   server.Mode   `json:"mode"`
}

type OpenQueryResponse struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

type QueryRequest struct {
	ID string `json:"id"`
}

type HasSolutionResponse struct {
	Status Status `json:"status"`
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

type GetNextSolutionRequest struct {
	ID    string `json:"id"`
	Close bool   `json:"close"`
}

// GetNextSolutionResponse carries one solution as serialized bindings
type GetNextSolutionResponse struct {
	Status   Status          `json:"status"`
	Solution json.RawMessage `json:"solution,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type GetAllSolutionsResponse struct {
	Status    Status            `json:"status"`
	Solutions []json.RawMessage `json:"solutions,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type CloseQueryResponse struct {
	Status Status `json:"status"`
}

// HealthResponse answers the service existence check
type HealthResponse struct {
	OK       bool   `json:"ok"`
	Version  string `json:"version,omitempty"`
	Engines  int    `json:"engines"`
	Free     int    `json:"free"`
	Sessions int    `json:"sessions"`
}

// EncodeBindings serializes b with the JSON codec
func EncodeBindings(b term.Bindings) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := (serialization.JSONSerializer{}).SerializeBindings(&buf, b); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimSpace(buf.Bytes())), nil
}

// DecodeBindings parses bindings serialized by EncodeBindings
func DecodeBindings(raw json.RawMessage) (term.Bindings, error) {
	return serialization.JSONDeserializer{}.DeserializeBindings(bytes.NewReader(raw))
}
