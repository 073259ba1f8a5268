package domain

import (
	"encoding/json"
	"fmt"

	"github.com/anthanhphan/go-chord/pkg/ring"
)

// Kind is the envelope type.
type Kind string

const (
	KindPing     Kind = "ping"
	KindMessage  Kind = "message"
	KindCommand  Kind = "command"
	KindResponse Kind = "response"
)

// Envelope is the UDP payload exchanged between nodes.
type Envelope struct {
	Sender        ring.Node       `json:"sender"`
	Receiver      ring.Node       `json:"receiver"`
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Response is the payload of a response envelope.
type Response struct {
	OK     bool            `json:"ok"`
	Ping   bool            `json:"ping,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Settle turns a response into the value or error seen by the caller.
func (r Response) Settle() (json.RawMessage, error) {
	switch {
	case r.OK:
		return r.Result, nil
	case r.Error != "":
		return nil, &RemoteError{Message: r.Error}
	default:
		raw, _ := json.Marshal(r)
		return nil, fmt.Errorf("%w: unsuccessful response %s", ErrRemote, raw)
	}
}

// Failure builds an unsuccessful response from err.
func Failure(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// TextMessage is the payload of a message envelope.
type TextMessage struct {
	Message string `json:"message"`
}
