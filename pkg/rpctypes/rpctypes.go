// Package rpctypes defines the JSON-RPC 2.0 request/response/error shapes
// the firewall parses and emits.
package rpctypes

import "encoding/json"

// Request is one JSON-RPC call. ID is kept as raw JSON so it can be
// echoed back byte-for-byte regardless of whether the caller used a
// string, number, or null id.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC reply: exactly one of Result or Error is set.
// When Raw is set, MarshalJSON emits it verbatim instead of the typed
// fields below — the non-intercepted forwarding path's mechanism for
// byte-equivalent pass-through of an upstream response it never needed
// to inspect.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Raw != nil {
		return r.Raw, nil
	}
	type alias Response
	return json.Marshal(alias(r))
}

// Error is the firewall's application error object.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Intercepted methods.
const (
	MethodSendTransaction    = "send-transaction"
	MethodSendRawTransaction = "send-raw-transaction"
)

func IsIntercepted(method string) bool {
	return method == MethodSendTransaction || method == MethodSendRawTransaction
}

// NewErrorResponse builds an error response preserving the original id
// (or null if one was never parsed).
func NewErrorResponse(id json.RawMessage, code int, message string, reason string) *Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    map[string]any{"reason": reason},
		},
	}
}

// ParseBatch parses a request body that is either a single JSON-RPC
// object or an ordered array of objects, preserving
// whether it was a batch so the caller can mirror that shape in the
// response.
func ParseBatch(body []byte) (reqs []Request, isBatch bool, malformed []bool, err error) {
	trimmed := trimLeadingSpace(body)
	if len(trimmed) == 0 {
		return nil, false, nil, errEmptyBody
	}

	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if jerr := json.Unmarshal(trimmed, &raws); jerr != nil {
			return nil, true, nil, jerr
		}
		reqs = make([]Request, len(raws))
		malformed = make([]bool, len(raws))
		for i, raw := range raws {
			var r Request
			if jerr := json.Unmarshal(raw, &r); jerr != nil || r.Method == "" {
				malformed[i] = true
				continue
			}
			reqs[i] = r
		}
		return reqs, true, malformed, nil
	}

	var r Request
	if jerr := json.Unmarshal(trimmed, &r); jerr != nil || r.Method == "" {
		return []Request{r}, false, []bool{true}, nil
	}
	return []Request{r}, false, []bool{false}, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

var errEmptyBody = &emptyBodyError{}

type emptyBodyError struct{}

func (e *emptyBodyError) Error() string { return "rpctypes: empty request body" }
