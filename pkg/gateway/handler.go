package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/identity"
	"github.com/aegis-labs/aegis-firewall/pkg/rpctypes"
)

// HeaderUser and HeaderAgent are the two override headers §3 names.
const (
	HeaderUser  = "X-Aegis-User"
	HeaderAgent = "X-Aegis-Agent"
)

// Handler is the net/http entry point for POST /rpc. It owns batch/single
// detection and per-request timeout; all admission logic lives in Pipeline.
type Handler struct {
	Pipeline       *Pipeline
	RequestTimeout time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeJSON(w, http.StatusOK, rpctypes.NewErrorResponse(nil, -32600, "Aegis: MalformedRequest", "could not read request body"))
		return
	}

	reqs, isBatch, malformed, err := rpctypes.ParseBatch(body)
	if err != nil {
		writeJSON(w, http.StatusOK, rpctypes.NewErrorResponse(nil, -32600, "Aegis: MalformedRequest", err.Error()))
		return
	}

	headers := identity.Headers{
		User:  r.Header.Get(HeaderUser),
		Agent: r.Header.Get(HeaderAgent),
	}

	timeout := h.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	responses := make([]*rpctypes.Response, len(reqs))
	for i, req := range reqs {
		responses[i] = h.Pipeline.Evaluate(ctx, req, malformed[i], headers)
	}

	if !isBatch {
		writeJSON(w, http.StatusOK, responses[0])
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
