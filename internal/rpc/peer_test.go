package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCallRoundTripsThroughHandler(t *testing.T) {
	serverT, clientT := newPipePair()

	serverHandler := func(_ context.Context, req *Request) *Response {
		if req.Method == "$/ping" {
			result, _ := json.Marshal("pong")
			return &Response{ID: req.ID, Result: result}
		}
		return &Response{ID: req.ID, Error: &Error{Code: MethodNotFound, Message: "unknown method"}}
	}

	server := NewPeer(serverT, serverHandler)
	client := NewPeer(clientT, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Run(ctx)
	go client.Run(ctx)

	resp, err := client.Call(ctx, "$/ping", nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"pong"`, string(resp.Result))
}

func TestCallReturnsRPCErrorForUnknownMethod(t *testing.T) {
	serverT, clientT := newPipePair()

	server := NewPeer(serverT, func(_ context.Context, req *Request) *Response {
		return &Response{ID: req.ID, Error: &Error{Code: MethodNotFound, Message: "unknown method"}}
	})
	client := NewPeer(clientT, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)
	go client.Run(ctx)

	_, err := client.Call(ctx, "$/bogus", nil)
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, int32(MethodNotFound), rpcErr.Code)
}

func TestConcurrentCallsGetDistinctIDs(t *testing.T) {
	serverT, clientT := newPipePair()

	server := NewPeer(serverT, func(_ context.Context, req *Request) *Response {
		result, _ := json.Marshal(req.ID)
		return &Response{ID: req.ID, Result: result}
	})
	client := NewPeer(clientT, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)
	go client.Run(ctx)

	const n = 20
	results := make(chan ID, n)
	for i := 0; i < n; i++ {
		go func() {
			resp, err := client.Call(ctx, "$/echo", nil)
			require.NoError(t, err)
			var id ID
			require.NoError(t, json.Unmarshal(resp.Result, &id))
			results <- id
		}()
	}

	seen := make(map[ID]bool)
	for i := 0; i < n; i++ {
		select {
		case id := <-results:
			require.False(t, seen[id], "duplicate id %d observed", id)
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent calls")
		}
	}
	require.Len(t, seen, n)
}

func TestCallFailsWhenSessionTearsDown(t *testing.T) {
	serverT, clientT := newPipePair()

	// Server never answers; its handler blocks forever relative to the test.
	block := make(chan struct{})
	server := NewPeer(serverT, func(_ context.Context, req *Request) *Response {
		<-block
		return &Response{ID: req.ID}
	})
	client := NewPeer(clientT, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)
	go client.Run(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "$/hang", nil)
		done <- err
	}()

	// Give Call a moment to register itself in pending, then tear the
	// client down from underneath it.
	time.Sleep(20 * time.Millisecond)
	client.Close()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not observe teardown")
	}
	close(block)
}

func TestUnsolicitedResponseIsDiscardedNotDelivered(t *testing.T) {
	serverT, clientT := newPipePair()

	server := NewPeer(serverT, nil)
	client := NewPeer(clientT, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)
	go client.Run(ctx)

	// Client gets a Response for an id it never requested; the peer should
	// log and drop it rather than panicking or blocking.
	data, err := EncodeResponse(&Response{ID: 999, Result: json.RawMessage(`"surprise"`)})
	require.NoError(t, err)
	require.NoError(t, serverT.WriteMessage(data))

	time.Sleep(20 * time.Millisecond) // let the client's pump process it harmlessly
}

func TestMalformedFrameYieldsSynthesizedParseErrorResponse(t *testing.T) {
	serverT, clientT := newPipePair()

	server := NewPeer(serverT, nil)
	_ = NewPeer(clientT, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	require.NoError(t, clientT.WriteMessage([]byte("not json")))

	data, err := clientT.ReadMessage()
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindResponse, msg.Kind)
	require.Equal(t, NoID, msg.Response.ID)
	require.NotNil(t, msg.Response.Error)
	require.Equal(t, int32(ParseError), msg.Response.Error.Code)
}
