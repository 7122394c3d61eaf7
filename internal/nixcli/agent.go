package nixcli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// nixosVersionMarker is the file present at the root of every NixOS system
// toplevel derivation; its presence is how the agent tells a system
// configuration store path from anything else before it will activate it.
const nixosVersionMarker = "nixos-version"

// profilesDir is where system profiles live, matched against by
// --profile in `nix-env --set`.
const profilesDir = "/nix/var/nix/profiles"

// IsSystemConfiguration reports whether storePath looks like a NixOS
// system toplevel derivation.
func IsSystemConfiguration(storePath string) bool {
	_, err := os.Stat(filepath.Join(storePath, nixosVersionMarker))
	return err == nil
}

// Download runs `nix copy --substitute-on-destination --verbose
// --no-check-sigs --from <from> <storePath>`.
func Download(ctx context.Context, storePath, from string) error {
	_, err := run(ctx, "nix", "copy",
		"--substitute-on-destination", "--verbose", "--no-check-sigs",
		"--from", from, storePath)
	if err != nil {
		return fmt.Errorf("nix copy: %w", err)
	}
	return nil
}

// SetProfile points the named system profile at storePath via
// `nix-env --profile <profilesDir>/<profile> --set <storePath>`.
func SetProfile(ctx context.Context, profile, storePath string) error {
	profileDir := filepath.Join(profilesDir, profile)
	_, err := run(ctx, "nix-env", "--profile", profileDir, "--set", storePath)
	if err != nil {
		return fmt.Errorf("nix-env --set: %w", err)
	}
	return nil
}

// SwitchToConfiguration invokes <storePath>/bin/switch-to-configuration
// switch. The activated configuration may restart the agent process
// before this call returns; the caller is not expected to finish
// delivering the RPC response in that case (spec §4.4, §9).
func SwitchToConfiguration(ctx context.Context, storePath string) error {
	script := filepath.Join(storePath, "bin", "switch-to-configuration")
	_, err := run(ctx, script, "switch")
	if err != nil {
		return fmt.Errorf("switch-to-configuration: %w", err)
	}
	return nil
}

// Activate is the agent's $/activate verb body: validate, set the
// profile, then switch. The profile name is fixed to "system", the
// conventional NixOS system profile.
func Activate(ctx context.Context, storePath string) error {
	const systemProfile = "system"
	if !IsSystemConfiguration(storePath) {
		return fmt.Errorf("%s does not look like a NixOS system configuration (missing %s)", storePath, nixosVersionMarker)
	}
	if err := SetProfile(ctx, systemProfile, storePath); err != nil {
		return err
	}
	return SwitchToConfiguration(ctx, storePath)
}
