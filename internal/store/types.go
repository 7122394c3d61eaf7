package store

// Flake is a tracked source repository describing one or more system
// configurations.
type Flake struct {
	FlakeID  int64
	FlakeURL string
}

// FlakeRevision is one immutable, pinned snapshot of a Flake.
type FlakeRevision struct {
	FlakeRevisionID int64
	FlakeID         int64
	Revision        string
	LastModified    string
	URL             string
	Metadata        string // opaque JSON, stored as text
}

// Configuration is a named system description within a Flake, unique per
// (FlakeID, Name).
type Configuration struct {
	NixosConfigurationID int64
	FlakeID               int64
	Name                  string
}

// Evaluation resolves one (FlakeRevisionID, NixosConfigurationID) pair to
// a store path. The pair is unique; the table is append-only.
type Evaluation struct {
	FlakeRevisionID       int64
	NixosConfigurationID  int64
	StorePath             string
}

// FlakeWithLatestRevision is the shape returned by ListFlakesWithLatestRevision.
type FlakeWithLatestRevision struct {
	Flake
	LatestRevision FlakeRevision
}

// Agent is the durably tracked identity and assignment state of one
// managed host.
type Agent struct {
	AgentID               string
	CurrentSystem         *string
	NixosConfigurationID  *int64
}

// ConfigurationWithFlake joins a Configuration with its owning Flake's URL,
// the shape the admin HTTP surface returns for GET /api/v1/configuration.
type ConfigurationWithFlake struct {
	Configuration
	FlakeURL string
}
