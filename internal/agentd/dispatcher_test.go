package agentd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nxyio/nxy/internal/rpc"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	state, err := LoadOrCreateState(t.TempDir())
	require.NoError(t, err)
	return NewDispatcher(state)
}

func TestHandlePingRespondsPong(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Handle(t.Context(), &rpc.Request{ID: 1, Method: "$/ping"})
	require.Nil(t, resp.Error)

	var result string
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "pong", result)
}

func TestHandleUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Handle(t.Context(), &rpc.Request{ID: 2, Method: "$/bogus"})
	require.NotNil(t, resp.Error)
	require.EqualValues(t, rpc.MethodNotFound, resp.Error.Code)
}

func TestHandleActivateRejectsNonSystemStorePath(t *testing.T) {
	d := newTestDispatcher(t)
	dir := t.TempDir() // no nixos-version marker

	params, err := json.Marshal(activateParams{StorePath: dir})
	require.NoError(t, err)

	resp := d.Handle(t.Context(), &rpc.Request{ID: 3, Method: "$/activate", Params: params})
	require.NotNil(t, resp.Error)
	require.EqualValues(t, rpc.InvalidParams, resp.Error.Code)
}

func TestHandleDownloadRejectsMalformedParams(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Handle(t.Context(), &rpc.Request{ID: 4, Method: "$/download", Params: json.RawMessage(`{not json`)})
	require.NotNil(t, resp.Error)
	require.EqualValues(t, rpc.InvalidParams, resp.Error.Code)
}
