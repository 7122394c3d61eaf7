// Package nixcli is the thin external-collaborator wrapper around the `nix`
// and `nix-env` command-line tools (spec §6, "Process invocations"). It
// knows nothing about sessions, peers, or persistence — only how to shell
// out and interpret JSON or exit codes.
package nixcli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// FlakeMetadata is the subset of `nix flake metadata --json` output the
// reconciliation engine needs.
type FlakeMetadata struct {
	Revision     string `json:"revision"`
	LastModified int64  `json:"lastModified"`
	URL          string `json:"url"`
}

// FlakeMetadata runs `nix flake metadata --json <url>` and returns both the
// typed fields and the raw document, which is persisted verbatim as the
// FlakeRevision's opaque metadata.
func FlakeMetadata(ctx context.Context, flakeURL string) (*FlakeMetadata, json.RawMessage, error) {
	out, err := run(ctx, "nix", "flake", "metadata", "--json", flakeURL)
	if err != nil {
		return nil, nil, fmt.Errorf("nix flake metadata: %w", err)
	}

	var meta FlakeMetadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, nil, fmt.Errorf("nix flake metadata: decoding json: %w", err)
	}
	return &meta, json.RawMessage(out), nil
}

// ListConfigurations runs `nix eval --json <url>#nixosConfigurations
// --apply builtins.attrNames` and returns the declared configuration
// names.
func ListConfigurations(ctx context.Context, pinnedURL string) ([]string, error) {
	out, err := run(ctx, "nix", "eval", "--json",
		pinnedURL+"#nixosConfigurations", "--apply", "builtins.attrNames")
	if err != nil {
		return nil, fmt.Errorf("nix eval nixosConfigurations: %w", err)
	}

	var names []string
	if err := json.Unmarshal(out, &names); err != nil {
		return nil, fmt.Errorf("nix eval nixosConfigurations: decoding json: %w", err)
	}
	return names, nil
}

// ConfigurationStorePath runs `nix path-info --json
// <url>#nixosConfigurations.<name>.config.system.build.toplevel` and
// returns the resolved store path.
func ConfigurationStorePath(ctx context.Context, pinnedURL, name string) (string, error) {
	attr := fmt.Sprintf("%s#nixosConfigurations.%s.config.system.build.toplevel", pinnedURL, name)
	out, err := run(ctx, "nix", "path-info", "--json", attr)
	if err != nil {
		return "", fmt.Errorf("nix path-info %s: %w", name, err)
	}

	var infos []struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(out, &infos); err != nil {
		return "", fmt.Errorf("nix path-info %s: decoding json: %w", name, err)
	}
	if len(infos) != 1 {
		return "", fmt.Errorf("nix path-info %s: expected exactly one result, got %d", name, len(infos))
	}
	return infos[0].Path, nil
}

// run executes a subprocess and returns its stdout, wrapping any nonzero
// exit with the captured stderr summary — the stdout/stderr-in-the-error
// shape spec §7 calls for at the RPC/HTTP boundary.
func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
