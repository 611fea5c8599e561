package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field constraints after normalization.
func (c *Config) Validate() error {
	switch c.Workflow.DefaultMode {
	case "sequential", "parallel":
	default:
		return fmt.Errorf("workflow.default_mode: unsupported value %q", c.Workflow.DefaultMode)
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}

	if c.ObjectStore.Enabled {
		if strings.TrimSpace(c.ObjectStore.Endpoint) == "" {
			return fmt.Errorf("object_store.endpoint is required when object_store.enabled is true")
		}
		if strings.TrimSpace(c.ObjectStore.Bucket) == "" {
			return fmt.Errorf("object_store.bucket is required when object_store.enabled is true")
		}
	}

	seen := make(map[string]struct{}, len(c.Remotes))
	for _, remote := range c.Remotes {
		if remote.Name == "" {
			return fmt.Errorf("remotes: every endpoint needs a name")
		}
		if remote.Address == "" {
			return fmt.Errorf("remotes.%s: address is required", remote.Name)
		}
		switch remote.Network {
		case "unix", "tcp":
		default:
			return fmt.Errorf("remotes.%s: unsupported network %q", remote.Name, remote.Network)
		}
		// Duplicate names are tolerated here; the channel manager keeps the
		// first registration and logs the rest.
		seen[remote.Name] = struct{}{}
	}
	return nil
}
