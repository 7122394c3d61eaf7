package agentd

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/nxyio/nxy/internal/rpc"
	"github.com/nxyio/nxy/internal/wsconn"
)

// Backoff computes the delay before the next reconnect attempt: doubling
// from Initial, capped at Max, with no jitter by default. Jitter is an
// extension point, not a behavior change: callers that want jittered
// backoff supply Jitter; the spec's reference doubling-without-jitter
// sequence is reproduced exactly when it is left nil.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  func() float64 // if non-nil, called for a random value in [0,1) added as noise

	current time.Duration
}

// DefaultBackoff is the 500ms-doubling-to-4s sequence spec.md specifies.
func DefaultBackoff() *Backoff {
	return &Backoff{Initial: 500 * time.Millisecond, Max: 4 * time.Second}
}

// Next returns the delay to wait before the next attempt and advances the
// sequence. The first call after construction or Reset returns Initial.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Initial
	}
	delay := b.current

	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}

	if b.Jitter != nil {
		delay += time.Duration(b.Jitter() * float64(delay))
	}
	return delay
}

// Reset returns the sequence to its initial state, used after a
// successful connection.
func (b *Backoff) Reset() {
	b.current = 0
}

// Run is the agent's connect loop: dial serverURL, run the peer until
// the session ends, then reconnect with backoff. It returns an error at
// once if the agent's state cannot be loaded or created; otherwise it
// returns only when ctx is canceled (e.g. on SIGTERM/SIGINT).
func Run(ctx context.Context, serverURL, stateDir string) error {
	state, err := LoadOrCreateState(stateDir)
	if err != nil {
		return err
	}
	dispatcher := NewDispatcher(state)
	backoff := DefaultBackoff()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.WithField("server", serverURL).WithField("agent_id", state.ID).Info("agentd: connecting")
		err := runOnce(ctx, serverURL, dispatcher, backoff)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.WithError(err).Warn("agentd: session ended, reconnecting")
		}

		delay := backoff.Next()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runOnce(ctx context.Context, serverURL string, dispatcher *Dispatcher, backoff *Backoff) error {
	dialer := websocket.DefaultDialer
	ws, _, err := dialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return err
	}
	backoff.Reset()

	transport := wsconn.New(ws)
	peer := rpc.NewPeer(transport, dispatcher.Handle)
	return peer.Run(ctx)
}
