// Package agentd is the agent-side dispatcher (C4): the connect loop, the
// handler for the four verbs an agent answers, and the durable local
// identity the handshake reports to the server.
package agentd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/nxyio/nxy/internal/buildinfo"
	"github.com/nxyio/nxy/internal/nixcli"
	"github.com/nxyio/nxy/internal/rpc"
)

const (
	currentSystemSymlink = "/run/current-system"
	bootedSystemSymlink  = "/run/booted-system"
)

// Dispatcher answers the server's RPCs for one connected session. It owns
// no session state beyond the agent's durable identity; everything else
// is recomputed per-call from the live filesystem.
type Dispatcher struct {
	state *State
}

// NewDispatcher builds a Dispatcher reporting identity from state.
func NewDispatcher(state *State) *Dispatcher {
	return &Dispatcher{state: state}
}

// Handle implements rpc.Handler, matching spec §6's four agent verbs.
func (d *Dispatcher) Handle(ctx context.Context, req *rpc.Request) *rpc.Response {
	log.WithField("id", req.ID).WithField("method", req.Method).Debug("agentd: dispatching request")

	switch req.Method {
	case "$/ping":
		return resultResponse(req.ID, "pong")
	case "$/status":
		return d.handleStatus(req.ID)
	case "$/download":
		return d.handleDownload(ctx, req)
	case "$/activate":
		return d.handleActivate(ctx, req)
	default:
		return &rpc.Response{ID: req.ID, Error: &rpc.Error{
			Code:    rpc.MethodNotFound,
			Message: fmt.Sprintf("unknown method %q", req.Method),
		}}
	}
}

type statusResult struct {
	ID      string       `json:"id"`
	System  statusSystem `json:"system"`
	Version string       `json:"version"`
}

type statusSystem struct {
	Current string `json:"current"`
	Booted  string `json:"booted"`
}

func (d *Dispatcher) handleStatus(id rpc.ID) *rpc.Response {
	current, err := os.Readlink(currentSystemSymlink)
	if err != nil {
		return internalErrorResponse(id, fmt.Errorf("reading %s: %w", currentSystemSymlink, err))
	}
	booted, err := os.Readlink(bootedSystemSymlink)
	if err != nil {
		return internalErrorResponse(id, fmt.Errorf("reading %s: %w", bootedSystemSymlink, err))
	}

	return resultResponse(id, statusResult{
		ID:      d.state.ID.String(),
		System:  statusSystem{Current: current, Booted: booted},
		Version: buildinfo.Version,
	})
}

type downloadParams struct {
	StorePath string `json:"store_path"`
	From      string `json:"from"`
}

func (d *Dispatcher) handleDownload(ctx context.Context, req *rpc.Request) *rpc.Response {
	var params downloadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParamsResponse(req.ID, err)
	}

	if err := nixcli.Download(ctx, params.StorePath, params.From); err != nil {
		return internalErrorResponse(req.ID, err)
	}
	return &rpc.Response{ID: req.ID, Result: json.RawMessage(`{}`)}
}

type activateParams struct {
	StorePath string `json:"store_path"`
}

func (d *Dispatcher) handleActivate(ctx context.Context, req *rpc.Request) *rpc.Response {
	var params activateParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParamsResponse(req.ID, err)
	}

	if !nixcli.IsSystemConfiguration(params.StorePath) {
		return &rpc.Response{ID: req.ID, Error: &rpc.Error{
			Code:    rpc.InvalidParams,
			Message: fmt.Sprintf("%s does not look like a NixOS system configuration", params.StorePath),
		}}
	}

	// Activation may cause this process to be restarted by the newly
	// activated configuration before this response is ever written; the
	// server treats the resulting transport close as a timeout (§9).
	if err := nixcli.Activate(ctx, params.StorePath); err != nil {
		return internalErrorResponse(req.ID, err)
	}
	return &rpc.Response{ID: req.ID, Result: json.RawMessage(`{}`)}
}

func resultResponse(id rpc.ID, v any) *rpc.Response {
	data, err := json.Marshal(v)
	if err != nil {
		return internalErrorResponse(id, err)
	}
	return &rpc.Response{ID: id, Result: data}
}

func internalErrorResponse(id rpc.ID, err error) *rpc.Response {
	return &rpc.Response{ID: id, Error: &rpc.Error{Code: rpc.InternalError, Message: err.Error()}}
}

func invalidParamsResponse(id rpc.ID, err error) *rpc.Response {
	return &rpc.Response{ID: id, Error: &rpc.Error{Code: rpc.InvalidParams, Message: err.Error()}}
}
