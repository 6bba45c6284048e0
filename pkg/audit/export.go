package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/crypto"
	"github.com/aegis-labs/aegis-firewall/pkg/gateway"
)

var (
	// ErrEmptyIdentity is returned when user or agent is empty.
	ErrEmptyIdentity = errors.New("audit: user and agent must not be empty")
	// ErrInvalidTimeRange is returned when start time is after end time.
	ErrInvalidTimeRange = errors.New("audit: start_time must be before end_time")
	// ErrStoreNotConfigured is returned when audit export is invoked without a backing store.
	ErrStoreNotConfigured = errors.New("audit: store not configured (fail-closed)")
)

// decisionQuerier is the narrow surface Exporter depends on;
// *PostgresAuditLogger is the production implementation.
type decisionQuerier interface {
	Query(ctx context.Context, user, agent string, start, end time.Time) ([]gateway.Decision, error)
}

// ExportRequest defines what to export: every Decision for one (user,
// agent) pair within [StartTime, EndTime).
type ExportRequest struct {
	User      string    `json:"user"`
	Agent     string    `json:"agent"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Exporter builds a zip evidence pack of admission/rejection decisions
// for one (user, agent) pair: decisions.json, a manifest with a checksum,
// and an optional signature.
type Exporter struct {
	store  decisionQuerier
	hasher crypto.Hasher
	signer crypto.Signer // optional; nil disables pack signing
}

func NewExporter(store decisionQuerier, signer crypto.Signer) *Exporter {
	return &Exporter{store: store, hasher: crypto.NewCanonicalHasher(), signer: signer}
}

// GeneratePack creates a zip file containing the decision log and a
// manifest with a canonical checksum, optionally signed.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if req.User == "" || req.Agent == "" {
		return nil, "", ErrEmptyIdentity
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.store == nil {
		return nil, "", ErrStoreNotConfigured
	}

	decisions, err := e.store.Query(ctx, req.User, req.Agent, req.StartTime, req.EndTime)
	if err != nil {
		return nil, "", fmt.Errorf("audit: query decisions: %w", err)
	}

	eventsJSON, err := jsonIndent(decisions)
	if err != nil {
		return nil, "", err
	}

	checksum, err := e.hasher.Hash(decisions)
	if err != nil {
		return nil, "", fmt.Errorf("audit: checksum decisions: %w", err)
	}

	manifest := map[string]interface{}{
		"user":           req.User,
		"agent":          req.Agent,
		"generated_at":   time.Now().UTC(),
		"decision_count": len(decisions),
		"checksum":       checksum,
		"period": map[string]interface{}{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	if e.signer != nil {
		sig, err := e.signer.Sign([]byte(checksum))
		if err != nil {
			return nil, "", fmt.Errorf("audit: sign checksum: %w", err)
		}
		manifest["signature"] = sig
		manifest["signature_type"] = crypto.SigPrefixEd25519
		manifest["public_key"] = e.signer.PublicKey()
	}
	manifestJSON, err := jsonIndent(manifest)
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("decisions.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(eventsJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	_, _ = fmt.Fprintf(f, "Evidence Pack for (user=%s, agent=%s)\nGenerated at %s\nDecision checksum: %s\n",
		req.User, req.Agent, time.Now().UTC(), checksum)

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), checksum, nil
}

func jsonIndent(v interface{}) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit: marshal: %w", err)
	}
	return b, nil
}
