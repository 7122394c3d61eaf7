package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type agentView struct {
	ID            string  `json:"id"`
	CurrentSystem *string `json:"current_system,omitempty"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.db.ListAgents(r.Context())
	if err != nil {
		writeDBError(w, err)
		return
	}

	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentView{ID: a.AgentID, CurrentSystem: a.CurrentSystem})
	}
	writeJSON(w, http.StatusOK, out)
}

type assignConfigurationBody struct {
	ConfigID int64 `json:"config_id"`
}

func (s *Server) handleAssignConfiguration(w http.ResponseWriter, r *http.Request) {
	agentID := pathAgentID(r)

	var body assignConfigurationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}
	if _, err := uuid.Parse(agentID); err != nil {
		writeBadRequest(w, "malformed agent_id")
		return
	}

	if err := s.db.AssignConfiguration(r.Context(), agentID, body.ConfigID); err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type storePathBody struct {
	StorePath string `json:"store_path"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.forwardToAgent(w, r, "$/download", func(body storePathBody) any {
		return struct {
			StorePath string `json:"store_path"`
			From      string `json:"from"`
		}{StorePath: body.StorePath, From: s.externalURL}
	})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.forwardToAgent(w, r, "$/activate", func(body storePathBody) any {
		return struct {
			StorePath string `json:"store_path"`
		}{StorePath: body.StorePath}
	})
}

// forwardToAgent decodes a {store_path} body, looks up the live peer for
// the path's agent_id, and issues method on it with params built by
// toParams, the shared shape of /download and /activate (spec §6).
func (s *Server) forwardToAgent(w http.ResponseWriter, r *http.Request, method string, toParams func(storePathBody) any) {
	agentIDStr := pathAgentID(r)
	agentID, err := uuid.Parse(agentIDStr)
	if err != nil {
		writeBadRequest(w, "malformed agent_id")
		return
	}

	var body storePathBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	peer, ok := s.fleet.Get(agentID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not connected"})
		return
	}

	if _, err := peer.Call(r.Context(), method, toParams(body)); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type flakeView struct {
	FlakeID        int64            `json:"flake_id"`
	FlakeURL       string           `json:"flake_url"`
	LatestRevision revisionSnapshot `json:"latest_revision"`
}

type revisionSnapshot struct {
	Revision     string `json:"revision"`
	LastModified string `json:"last_modified"`
	URL          string `json:"url"`
}

func (s *Server) handleListFlakes(w http.ResponseWriter, r *http.Request) {
	flakes, err := s.db.ListFlakesWithLatestRevision(r.Context())
	if err != nil {
		writeDBError(w, err)
		return
	}

	out := make([]flakeView, 0, len(flakes))
	for _, f := range flakes {
		out = append(out, flakeView{
			FlakeID:  f.FlakeID,
			FlakeURL: f.FlakeURL,
			LatestRevision: revisionSnapshot{
				Revision:     f.LatestRevision.Revision,
				LastModified: f.LatestRevision.LastModified,
				URL:          f.LatestRevision.URL,
			},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type registerFlakeBody struct {
	Flake struct {
		FlakeURL string `json:"flake_url"`
	} `json:"flake"`
}

func (s *Server) handleRegisterFlake(w http.ResponseWriter, r *http.Request) {
	var body registerFlakeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Flake.FlakeURL == "" {
		writeBadRequest(w, "missing flake.flake_url")
		return
	}

	flake, err := s.engine.RegisterFlake(r.Context(), body.Flake.FlakeURL)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, flakeView{FlakeID: flake.FlakeID, FlakeURL: flake.FlakeURL})
}

func (s *Server) handleRefreshFlakes(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.UpdateFlakes(r.Context()); err != nil {
		writeDBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type configurationView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FlakeID  int64  `json:"flake_id"`
	FlakeURL string `json:"flake_url"`
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := s.db.ListConfigurations(r.Context())
	if err != nil {
		writeDBError(w, err)
		return
	}

	out := make([]configurationView, 0, len(configs))
	for _, c := range configs {
		out = append(out, configurationView{ID: c.NixosConfigurationID, Name: c.Name, FlakeID: c.FlakeID, FlakeURL: c.FlakeURL})
	}
	writeJSON(w, http.StatusOK, out)
}
