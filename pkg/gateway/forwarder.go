package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/rpctypes"
)

// HTTPForwarder sends the original request body to a single upstream
// JSON-RPC node over plain net/http, deliberately not httputil.ReverseProxy
// (SPEC_FULL §4.1 domain-stack binding): the gateway needs the response
// body in hand to inspect it for an embedded RPC error before deciding
// whether to roll back a reservation, which a streaming reverse proxy
// does not give it for free.
type HTTPForwarder struct {
	UpstreamURL string
	Client      *http.Client
}

func NewHTTPForwarder(upstreamURL string) *HTTPForwarder {
	return &HTTPForwarder{
		UpstreamURL: upstreamURL,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPForwarder) Forward(ctx context.Context, req rpctypes.Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("forwarder: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forwarder: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("forwarder: upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("forwarder: reading upstream response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("forwarder: upstream returned %d", resp.StatusCode)
	}

	return respBody, nil
}

// Ping satisfies adminapi.UpstreamPinger with a
// lightweight client-version probe rather than a full RPC round-trip.
func (f *HTTPForwarder) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.UpstreamURL,
		bytes.NewReader([]byte(`{"jsonrpc":"2.0","id":0,"method":"web3_clientVersion","params":[]}`)))
	if err != nil {
		return fmt.Errorf("forwarder: build ping request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("forwarder: ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("forwarder: ping returned %d", resp.StatusCode)
	}
	return nil
}
