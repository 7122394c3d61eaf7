package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Handler answers an inbound Request with a Response carrying the same ID.
type Handler func(ctx context.Context, req *Request) *Response

// Peer bridges one Transport and is identical in shape on both the server
// and agent ends of a session: it allocates outbound request ids, tracks
// pending completions, drains an outbound write queue, and dispatches
// inbound requests to an installed Handler.
type Peer struct {
	transport Transport
	handler   Handler

	counter uint64 // atomic, next outbound request id

	mu      sync.Mutex
	pending map[ID]chan *Response
	closed  bool

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewPeer constructs a Peer over transport. handler may be nil for peers
// that never expect inbound requests (e.g. the server's end of an agent
// session);
// an inbound request received by such a peer is answered with
// MethodNotFound.
func NewPeer(transport Transport, handler Handler) *Peer {
	if handler == nil {
		handler = func(_ context.Context, req *Request) *Response {
			return &Response{ID: req.ID, Error: &Error{Code: MethodNotFound, Message: "no handler installed"}}
		}
	}
	return &Peer{
		transport: transport,
		handler:   handler,
		pending:   make(map[ID]chan *Response),
		outbound:  make(chan []byte, outboundBufferSize),
		done:      make(chan struct{}),
	}
}

// Run drives the peer until the transport's read side ends or ctx is
// canceled. It owns both the inbound pump and the outbound writer for the
// lifetime of the session and always returns once the session has torn
// down; any pending completions are abandoned at that point.
func (p *Peer) Run(ctx context.Context) error {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		p.runWriter()
	}()
	go func() {
		select {
		case <-ctx.Done():
			p.teardown() // closes the transport, unblocking a pending read
		case <-p.done:
		}
	}()

	readErr := p.runReader(ctx)

	p.teardown()
	<-writerDone

	return readErr
}

func (p *Peer) runWriter() {
	for {
		select {
		case data := <-p.outbound:
			if err := p.transport.WriteMessage(data); err != nil {
				log.WithError(err).Warn("rpc: write failed, dropping connection")
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Peer) runReader(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := p.transport.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := Decode(data)
		if err != nil {
			p.sendParseError(err)
			continue
		}
		p.Handle(ctx, msg)
	}
}

// Handle processes one decoded envelope per spec: a Request is dispatched
// to the handler and its Response queued for send; a Response fulfills
// (or, if unknown, is logged and dropped); a Notification goes to the log.
func (p *Peer) Handle(ctx context.Context, msg *Message) {
	switch msg.Kind {
	case KindRequest:
		resp := p.handler(ctx, msg.Request)
		if resp == nil {
			resp = &Response{ID: msg.Request.ID, Error: &Error{Code: InternalError, Message: "handler returned no response"}}
		}
		data, err := EncodeResponse(resp)
		if err != nil {
			log.WithError(err).Error("rpc: failed to encode response")
			return
		}
		p.enqueue(data)

	case KindResponse:
		p.mu.Lock()
		ch, ok := p.pending[msg.Response.ID]
		if ok {
			delete(p.pending, msg.Response.ID)
		}
		p.mu.Unlock()

		if !ok {
			log.WithField("id", msg.Response.ID).Warn("rpc: response for unknown request id, discarding")
			return
		}
		ch <- msg.Response

	case KindNotification:
		log.WithFields(log.Fields{
			"method": msg.Notification.Method,
			"params": string(msg.Notification.Params),
		}).Info("rpc: notification received")
	}
}

func (p *Peer) sendParseError(parseErr error) {
	resp := &Response{
		ID:    NoID,
		Error: &Error{Code: ParseError, Message: parseErr.Error()},
	}
	data, err := EncodeResponse(resp)
	if err != nil {
		log.WithError(err).Error("rpc: failed to encode synthesized parse error response")
		return
	}
	p.enqueue(data)
}

func (p *Peer) enqueue(data []byte) {
	select {
	case p.outbound <- data:
	case <-p.done:
	}
}

// Call issues an outbound Request and blocks until a matching Response
// arrives, ctx is canceled, or the session tears down.
func (p *Peer) Call(ctx context.Context, method string, params any) (*Response, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("rpc: marshal params: %w", err)
		}
		raw = data
	}

	id := ID(atomic.AddUint64(&p.counter, 1) - 1)
	req := &Request{ID: id, Method: method, Params: raw}

	ch := make(chan *Response, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("rpc: peer closed")
	}
	p.pending[id] = ch
	p.mu.Unlock()

	data, err := EncodeRequest(req)
	if err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	select {
	case p.outbound <- data:
	case <-p.done:
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("rpc: peer closed while enqueuing call %s", method)
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, ctx.Err()
	}

	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, fmt.Errorf("rpc: call %s canceled: session closed before response arrived", method)
		}
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-p.done:
		return nil, fmt.Errorf("rpc: response channel closed for call %s", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// teardown abandons every pending completion and stops the writer.
func (p *Peer) teardown() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		pending := p.pending
		p.pending = make(map[ID]chan *Response)
		p.mu.Unlock()

		close(p.done)

		for id, ch := range pending {
			log.WithField("id", id).Debug("rpc: abandoning pending call on teardown")
			close(ch)
		}

		_ = p.transport.Close()
	})
}

// Close tears the session down from this side.
func (p *Peer) Close() error {
	p.teardown()
	return nil
}
