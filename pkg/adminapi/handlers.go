package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/anchor"
	"github.com/aegis-labs/aegis-firewall/pkg/policy"
)

// StorePinger is the narrow health-check surface the Reservation Store
// backend must satisfy.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// UpstreamPinger checks reachability of the upstream JSON-RPC node.
type UpstreamPinger interface {
	Ping(ctx context.Context) error
}

// AnchorRunner is the narrow surface the one-shot anchor endpoint drives;
// *anchor.Worker satisfies it.
type AnchorRunner interface {
	RunOnceDetailed(ctx context.Context) (anchored, scanned int, err error)
}

// Handlers wires the three admin endpoints: health, policy inspection,
// and one-shot anchoring.
type Handlers struct {
	Store    StorePinger
	Upstream UpstreamPinger
	Policy   *policy.Client
	Anchor   AnchorRunner
}

func (h *Handlers) Register(mux *http.ServeMux, anchorSecret string) {
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/admin/policy", h.PolicyInspect)
	mux.HandleFunc("/admin/anchor", BearerAuth(anchorSecret, h.AnchorOnce))
}

// Health returns 200 when the store and upstream were both reachable on
// this probe, 503 otherwise.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	storeOK := h.Store == nil || h.Store.Ping(ctx) == nil
	upstreamOK := h.Upstream == nil || h.Upstream.Ping(ctx) == nil

	status := http.StatusOK
	if !storeOK || !upstreamOK {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"store":    storeOK,
		"upstream": upstreamOK,
	})
}

// PolicyInspect reads the policy tuple for ?user=&agent= and returns it
// alongside a float64 display amount for operators.
func (h *Handlers) PolicyInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	user := r.URL.Query().Get("user")
	agent := r.URL.Query().Get("agent")
	if user == "" || agent == "" {
		writeError(w, http.StatusBadRequest, -32602, "user and agent query parameters are required")
		return
	}

	pol, err := h.Policy.Load(r.Context(), user, agent)
	if err != nil {
		writeInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user":                pol.User,
		"agent":               pol.Agent,
		"dailyLimitWei":       pol.DailyLimit.String(),
		"dailyLimitWeiFloat":  pol.FloatDailyLimitWei(),
		"currentSpendOnChain": pol.CurrentSpendOnChain.String(),
		"lastReset":           pol.LastReset,
		"isActive":            pol.IsActive,
		"exists":              pol.Exists,
	})
}

// AnchorOnce runs a single anchor iteration under a 120-second hard
// timeout, guarded by BearerAuth at registration.
func (h *Handlers) AnchorOnce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	anchored, scanned, err := h.Anchor.RunOnceDetailed(ctx)
	if errors.Is(err, anchor.ErrLockHeld) {
		writeConflict(w, "anchor lock is held by another instance")
		return
	}
	if err != nil {
		writeInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"processed": anchored,
		"scanned":   scanned,
		"txs":       anchored,
	})
}
