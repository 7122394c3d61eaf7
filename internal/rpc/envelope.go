// Package rpc implements the bidirectional, correlated request/response
// protocol that server and agent speak over a single full-duplex session:
// a versioned JSON envelope (Request | Response | Notification) and a Peer
// that multiplexes outbound calls against inbound replies.
package rpc

import (
	"encoding/json"
	"fmt"
	"math"
)

// ID is an outbound request identifier, unique within one direction of one
// session. NoID is the reserved marker used on synthesized parse-error
// responses that can't be correlated to any request.
type ID uint64

const NoID ID = math.MaxUint64

const protocolVersion = "2.0"

// Canonical error codes, shared by the codec and the peer.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Request is an outbound or inbound call awaiting a Response with the same ID.
type Request struct {
	ID     ID              `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID, carrying exactly one of
// Result or Error.
type Response struct {
	ID     ID              `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Notification is a fire-and-forget envelope with no ID.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Error is the structured error carried by a Response.
type Error struct {
	Code    int32           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Kind discriminates a decoded Message.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

// Message is the decoded form of one wire envelope: exactly one of
// Request, Response, or Notification is set, matching Kind.
type Message struct {
	Kind         Kind
	Request      *Request
	Response     *Response
	Notification *Notification
}

// wireEnvelope is the on-the-wire shape: a flat object carrying the
// protocol tag plus whichever fields the concrete envelope needs. Unknown
// top-level fields are ignored by encoding/json already.
type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// DecodeError is returned by Decode when a frame cannot be interpreted as
// any of Request, Response, or Notification.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "parse error: " + e.Reason }

// Encode serializes a Message to its wire form, always stamping the
// protocol tag.
func Encode(msg *Message) ([]byte, error) {
	var w wireEnvelope
	w.JSONRPC = protocolVersion

	switch msg.Kind {
	case KindRequest:
		if msg.Request == nil {
			return nil, fmt.Errorf("rpc: encode: KindRequest with nil Request")
		}
		id := msg.Request.ID
		w.ID = &id
		w.Method = msg.Request.Method
		w.Params = msg.Request.Params
	case KindResponse:
		if msg.Response == nil {
			return nil, fmt.Errorf("rpc: encode: KindResponse with nil Response")
		}
		id := msg.Response.ID
		w.ID = &id
		w.Result = msg.Response.Result
		w.Error = msg.Response.Error
	case KindNotification:
		if msg.Notification == nil {
			return nil, fmt.Errorf("rpc: encode: KindNotification with nil Notification")
		}
		w.Method = msg.Notification.Method
		w.Params = msg.Notification.Params
	default:
		return nil, fmt.Errorf("rpc: encode: unknown kind %d", msg.Kind)
	}

	return json.Marshal(w)
}

// EncodeRequest, EncodeResponse, and EncodeNotification are convenience
// wrappers used by callers that already hold a concrete envelope type.
func EncodeRequest(r *Request) ([]byte, error) {
	return Encode(&Message{Kind: KindRequest, Request: r})
}

func EncodeResponse(r *Response) ([]byte, error) {
	return Encode(&Message{Kind: KindResponse, Response: r})
}

func EncodeNotification(n *Notification) ([]byte, error) {
	return Encode(&Message{Kind: KindNotification, Notification: n})
}

// Decode parses a wire frame and classifies it structurally:
//   - id + method             -> Request
//   - id + (result or error)  -> Response
//   - method, no id           -> Notification
//
// Anything else yields a *DecodeError.
func Decode(data []byte) (*Message, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	switch {
	case w.ID != nil && w.Method != "":
		return &Message{
			Kind: KindRequest,
			Request: &Request{
				ID:     *w.ID,
				Method: w.Method,
				Params: w.Params,
			},
		}, nil

	case w.ID != nil && (w.Result != nil || w.Error != nil):
		return &Message{
			Kind: KindResponse,
			Response: &Response{
				ID:     *w.ID,
				Result: w.Result,
				Error:  w.Error,
			},
		}, nil

	case w.ID != nil:
		return nil, &DecodeError{Reason: "response carries an id but neither result nor error"}

	case w.Method != "":
		return &Message{
			Kind: KindNotification,
			Notification: &Notification{
				Method: w.Method,
				Params: w.Params,
			},
		}, nil

	default:
		return nil, &DecodeError{Reason: "envelope has neither id nor method"}
	}
}
