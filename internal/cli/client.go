// Package cli implements the nxy admin command-line client: an HTTP
// client for the admin JSON API plus table/JSON rendering.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Client is a thin wrapper around the admin HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client against baseURL (e.g. NXY_SERVER).
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: http.DefaultClient}
}

func (c *Client) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: server returned %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s %s: %w", method, path, err)
	}
	return nil
}

// Agent mirrors httpapi.agentView.
type Agent struct {
	ID            string  `json:"id"`
	CurrentSystem *string `json:"current_system,omitempty"`
}

func (c *Client) ListAgents() ([]Agent, error) {
	var out []Agent
	err := c.do(http.MethodGet, "/api/v1/agent", nil, &out)
	return out, err
}

func (c *Client) AssignConfiguration(agentID string, configID int64) error {
	return c.do(http.MethodPost, "/api/v1/agent/"+agentID, map[string]int64{"config_id": configID}, nil)
}

func (c *Client) Download(agentID, storePath string) error {
	return c.do(http.MethodPost, "/api/v1/agent/"+agentID+"/download", map[string]string{"store_path": storePath}, nil)
}

func (c *Client) Activate(agentID, storePath string) error {
	return c.do(http.MethodPost, "/api/v1/agent/"+agentID+"/activate", map[string]string{"store_path": storePath}, nil)
}

// RevisionSnapshot mirrors httpapi.revisionSnapshot.
type RevisionSnapshot struct {
	Revision     string `json:"revision"`
	LastModified string `json:"last_modified"`
	URL          string `json:"url"`
}

// Flake mirrors httpapi.flakeView.
type Flake struct {
	FlakeID        int64            `json:"flake_id"`
	FlakeURL       string           `json:"flake_url"`
	LatestRevision RevisionSnapshot `json:"latest_revision"`
}

func (c *Client) ListFlakes() ([]Flake, error) {
	var out []Flake
	err := c.do(http.MethodGet, "/api/v1/flake", nil, &out)
	return out, err
}

func (c *Client) RegisterFlake(flakeURL string) (*Flake, error) {
	var out Flake
	body := map[string]any{"flake": map[string]string{"flake_url": flakeURL}}
	if err := c.do(http.MethodPost, "/api/v1/flake", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RefreshFlakes() error {
	return c.do(http.MethodPut, "/api/v1/flake", nil, nil)
}

// Configuration mirrors httpapi.configurationView.
type Configuration struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FlakeID  int64  `json:"flake_id"`
	FlakeURL string `json:"flake_url"`
}

func (c *Client) ListConfigurations() ([]Configuration, error) {
	var out []Configuration
	err := c.do(http.MethodGet, "/api/v1/configuration", nil, &out)
	return out, err
}
