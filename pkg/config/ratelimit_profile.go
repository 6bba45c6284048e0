package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aegis-labs/aegis-firewall/pkg/kernel"
)

// RateLimitProfile overrides the global rate-limit policy for one
// (user, agent) pair.
type RateLimitProfile struct {
	User  string `yaml:"user"`
	Agent string `yaml:"agent"`
	RPM   int    `yaml:"rpm"`
	Burst int    `yaml:"burst"`
}

// rateLimitProfileFile is the on-disk shape: a flat list of overrides.
type rateLimitProfileFile struct {
	Profiles []RateLimitProfile `yaml:"profiles"`
}

// LoadRateLimitProfiles reads AEGIS_RATE_LIMIT_PROFILE (a YAML file path)
// and returns per-(user,agent) BackpressurePolicy overrides keyed by
// "user:agent", lowercased. An empty path is not an error: it simply
// yields no overrides, and every caller falls back to the global policy.
func LoadRateLimitProfiles(path string) (map[string]kernel.BackpressurePolicy, error) {
	overrides := make(map[string]kernel.BackpressurePolicy)
	if path == "" {
		return overrides, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read rate limit profile %q: %w", path, err)
	}

	var file rateLimitProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse rate limit profile %q: %w", path, err)
	}

	for _, p := range file.Profiles {
		if p.User == "" || p.Agent == "" {
			continue
		}
		overrides[rateLimitProfileKey(p.User, p.Agent)] = kernel.BackpressurePolicy{
			RPM:   p.RPM,
			Burst: p.Burst,
		}
	}
	return overrides, nil
}

func rateLimitProfileKey(user, agent string) string {
	return strings.ToLower(user) + ":" + strings.ToLower(agent)
}
