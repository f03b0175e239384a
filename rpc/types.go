// Package rpc exposes the ledger via a JSON-RPC 2.0 HTTP endpoint and a
// websocket notification stream.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/ecobuild/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object. Ledger failures use the
// ledger's numeric code (6000 and up) and carry the symbolic code in Data.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the machine-readable part of a ledger error.
type ErrorData struct {
	Code     core.Code         `json:"code"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeNotFound       = -32001
	CodeTxRejected     = -32002
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// failResponse maps err onto a JSON-RPC error. Ledger errors keep their
// code; storage absence becomes CodeNotFound.
func failResponse(id any, err error) Response {
	var lerr *core.Error
	if errors.As(err, &lerr) {
		return Response{
			JSONRPC: "2.0",
			ID:      id,
			Error: &Error{
				Code:    lerr.Code.Number(),
				Message: lerr.Error(),
				Data:    &ErrorData{Code: lerr.Code, Metadata: lerr.Metadata},
			},
		}
	}
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(id, CodeNotFound, err.Error())
	}
	return errResponse(id, CodeInternalError, err.Error())
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
