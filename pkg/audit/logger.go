// Package audit records one Decision per policy-pipeline evaluation,
// keyed by (user, agent) rather than a single tenant or principal id.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/aegis-labs/aegis-firewall/pkg/gateway"
)

// Logger records a Decision. gateway.Pipeline depends on this structurally
// via its own AuditLogger interface; this package supplies two concrete
// implementations.
type Logger interface {
	Record(d gateway.Decision)
}

// StdoutLogger writes structured JSON to a configurable Writer, one line
// per decision, framed as "AUDIT: <json>\n" for easy log-pipeline
// filtering.
type StdoutLogger struct {
	mu     sync.Mutex
	writer io.Writer
}

func NewStdoutLogger() *StdoutLogger {
	return NewLoggerWithWriter(os.Stdout)
}

func NewLoggerWithWriter(w io.Writer) *StdoutLogger {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutLogger{writer: w}
}

func (l *StdoutLogger) Record(d gateway.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := json.Marshal(d)
	if err != nil {
		return
	}
	_, _ = l.writer.Write(append([]byte("AUDIT: "), append(b, '\n')...))
}
