// Package config builds the firewall's typed, explicit configuration
// record at startup and refuses to start on any missing required field.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AnchorMode selects whether the anchor worker stops after its first
// successful anchor per invocation or drains every pending key.
type AnchorMode string

const (
	AnchorModeOneShot    AnchorMode = "one-shot"
	AnchorModeContinuous AnchorMode = "continuous"
)

// Config is the complete set of recognized options.
type Config struct {
	UpstreamURL       string
	ContractAddress   string
	EthRPCURL         string
	AdminDefaultUser  string
	AdminDefaultAgent string
	FacilitatorKeyHex string
	KVURL             string
	AnchorEpoch       time.Duration
	AnchorBatchSize   int
	AnchorSecret      string
	AnchorMode        AnchorMode
	ListenPort        string
	RequestTimeout    time.Duration
	LogLevel          string
	AuditDSN          string
	RateLimitRPM      int
	RateLimitBurst    int
	RateLimitProfile  string
}

// Load reads configuration from the environment. It never fails — callers
// must call Validate before using the result in a live server, so startup
// fails fast on configuration that Validate rejects. Integer and duration
// variables that do not parse fall back to their defaults silently.
func Load() *Config {
	return &Config{
		UpstreamURL:       getenv("AEGIS_UPSTREAM_URL", ""),
		ContractAddress:   getenv("AEGIS_CONTRACT_ADDRESS", ""),
		EthRPCURL:         getenv("AEGIS_ETH_RPC_URL", ""),
		AdminDefaultUser:  getenv("AEGIS_ADMIN_DEFAULT_USER", ""),
		AdminDefaultAgent: getenv("AEGIS_ADMIN_DEFAULT_AGENT", ""),
		FacilitatorKeyHex: getenv("AEGIS_FACILITATOR_KEY", ""),
		KVURL:             getenv("AEGIS_KV_URL", ""),
		AnchorEpoch:       getenvDuration("AEGIS_ANCHOR_EPOCH_SECONDS", 900*time.Second),
		AnchorBatchSize:   getenvInt("AEGIS_ANCHOR_BATCH_SIZE", 20),
		AnchorSecret:      getenv("AEGIS_ANCHOR_SECRET", ""),
		AnchorMode:        AnchorMode(getenv("AEGIS_ANCHOR_MODE", string(AnchorModeContinuous))),
		ListenPort:        getenv("AEGIS_LISTEN_PORT", "8080"),
		RequestTimeout:    getenvDuration("AEGIS_REQUEST_TIMEOUT_SECONDS", 10*time.Second),
		LogLevel:          getenv("AEGIS_LOG_LEVEL", "info"),
		AuditDSN:          getenv("AEGIS_AUDIT_DSN", ""),
		RateLimitRPM:      getenvInt("AEGIS_RATE_LIMIT_RPM", 600),
		RateLimitBurst:    getenvInt("AEGIS_RATE_LIMIT_BURST", 50),
		RateLimitProfile:  getenv("AEGIS_RATE_LIMIT_PROFILE", ""),
	}
}

// Validate refuses to let the process start with an incomplete or
// nonsensical configuration. The admin surface's bearer-token guard and
// the anchor worker's facilitator signer are both security-relevant, so
// their absence is a hard error rather than a silent degradation.
func (c *Config) Validate() error {
	var missing []string
	if c.UpstreamURL == "" {
		missing = append(missing, "AEGIS_UPSTREAM_URL")
	}
	if c.ContractAddress == "" {
		missing = append(missing, "AEGIS_CONTRACT_ADDRESS")
	}
	if c.EthRPCURL == "" {
		missing = append(missing, "AEGIS_ETH_RPC_URL")
	}
	if c.FacilitatorKeyHex == "" {
		missing = append(missing, "AEGIS_FACILITATOR_KEY")
	}
	if c.KVURL == "" {
		missing = append(missing, "AEGIS_KV_URL")
	}
	if c.AnchorSecret == "" {
		missing = append(missing, "AEGIS_ANCHOR_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}

	switch c.AnchorMode {
	case AnchorModeOneShot, AnchorModeContinuous:
	default:
		return fmt.Errorf("config: AEGIS_ANCHOR_MODE must be %q or %q, got %q", AnchorModeOneShot, AnchorModeContinuous, c.AnchorMode)
	}

	if c.AnchorBatchSize <= 0 {
		return fmt.Errorf("config: AEGIS_ANCHOR_BATCH_SIZE must be positive, got %d", c.AnchorBatchSize)
	}
	if c.AnchorEpoch <= 0 {
		return fmt.Errorf("config: AEGIS_ANCHOR_EPOCH_SECONDS must be positive, got %s", c.AnchorEpoch)
	}

	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
