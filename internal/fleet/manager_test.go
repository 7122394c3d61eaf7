package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/nxyio/nxy/internal/rpc"
	"github.com/nxyio/nxy/internal/store"
)

// pipeTransport is an in-memory rpc.Transport, mirroring the rpc package's
// own pipe-pair test fixture, for wiring a client/server Peer pair without
// a real websocket.
type pipeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipePair() (a, b *pipeTransport) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	a = &pipeTransport{in: ba, out: ab, closed: make(chan struct{})}
	b = &pipeTransport{in: ab, out: ba, closed: make(chan struct{})}
	return a, b
}

func (p *pipeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, fmt.Errorf("pipe closed")
	}
}

func (p *pipeTransport) WriteMessage(data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return fmt.Errorf("pipe closed")
	}
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(t.Context(), "sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// agentHandler answers $/status and $/ping the way a real agent would.
func agentHandler(agentID uuid.UUID, currentSystem string) rpc.Handler {
	return func(ctx context.Context, req *rpc.Request) *rpc.Response {
		switch req.Method {
		case "$/status":
			result, _ := json.Marshal(statusResult{
				ID:      agentID.String(),
				System:  system{Current: currentSystem, Booted: currentSystem},
				Version: "test",
			})
			return &rpc.Response{ID: req.ID, Result: result}
		case "$/ping":
			return &rpc.Response{ID: req.ID, Result: json.RawMessage(`{}`)}
		default:
			return &rpc.Response{ID: req.ID, Error: &rpc.Error{Code: rpc.MethodNotFound, Message: "unknown method"}}
		}
	}
}

func TestOnConnectRegistersAgentAndPersistsStatus(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	m := NewManager(ctx, db, "http://test-server.invalid")

	agentID := uuid.New()
	serverSide, agentSide := newPipePair()
	agentPeer := rpc.NewPeer(agentSide, agentHandler(agentID, "/nix/store/abc-system"))
	serverPeer := rpc.NewPeer(serverSide, nil)

	go agentPeer.Run(ctx)
	go serverPeer.Run(ctx)

	gotID, err := m.OnConnect(ctx, serverPeer)
	require.NoError(t, err)
	require.Equal(t, agentID, gotID)

	p, ok := m.Get(agentID)
	require.True(t, ok)
	require.Same(t, serverPeer, p)

	agent, err := db.GetAgent(ctx, agentID.String())
	require.NoError(t, err)
	require.Equal(t, "/nix/store/abc-system", *agent.CurrentSystem)
}

func TestOnConnectReplacesPeerOnReconnect(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	m := NewManager(ctx, db, "http://test-server.invalid")
	agentID := uuid.New()

	for i := 0; i < 2; i++ {
		serverSide, agentSide := newPipePair()
		agentPeer := rpc.NewPeer(agentSide, agentHandler(agentID, "/nix/store/abc-system"))
		serverPeer := rpc.NewPeer(serverSide, nil)
		go agentPeer.Run(ctx)
		go serverPeer.Run(ctx)

		gotID, err := m.OnConnect(ctx, serverPeer)
		require.NoError(t, err)
		require.Equal(t, agentID, gotID)
	}

	_, ok := m.Get(agentID)
	require.True(t, ok)
}

func TestHeartbeatRemovesUnresponsivePeer(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	m := NewManager(ctx, db, "http://test-server.invalid")

	agentID := uuid.New()
	serverSide, agentSide := newPipePair()
	agentPeer := rpc.NewPeer(agentSide, agentHandler(agentID, "/nix/store/abc-system"))
	serverPeer := rpc.NewPeer(serverSide, nil)
	go agentPeer.Run(ctx)
	go serverPeer.Run(ctx)

	_, err := m.OnConnect(ctx, serverPeer)
	require.NoError(t, err)

	agentPeer.Close()
	serverPeer.Close()

	m.heartbeatOnce(ctx)

	_, ok := m.Get(agentID)
	require.False(t, ok)
}
