package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/aegis-labs/aegis-firewall/pkg/gateway"
	_ "github.com/lib/pq"
)

// PostgresAuditLogger persists one row per Decision to a durable sink in
// addition to (or instead of) the StdoutLogger. Activated only when
// AEGIS_AUDIT_DSN is set.
type PostgresAuditLogger struct {
	db *sql.DB
}

func NewPostgresAuditLogger(db *sql.DB) *PostgresAuditLogger {
	return &PostgresAuditLogger{db: db}
}

// EnsureSchema creates the decisions table if it does not already exist.
// Called once at startup rather than relying on an external migration
// tool.
func (l *PostgresAuditLogger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS decisions (
			id           TEXT PRIMARY KEY,
			user_addr    TEXT NOT NULL,
			agent_addr   TEXT NOT NULL,
			method       TEXT NOT NULL,
			value_wei    TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			duration_ms  BIGINT NOT NULL,
			occurred_at  TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("audit: create decisions table: %w", err)
	}
	return nil
}

// Record implements Logger. Postgres failures are logged, not
// propagated: the admission decision has already been made and returned
// to the caller by the time Record runs, so a durability failure here
// must never retroactively change the RPC response.
func (l *PostgresAuditLogger) Record(d gateway.Decision) {
	valueWei := "0"
	if d.ValueWei != nil {
		valueWei = d.ValueWei.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO decisions (id, user_addr, agent_addr, method, value_wei, outcome, kind, duration_ms, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.User, d.Agent, d.Method, valueWei, d.Outcome, d.Kind, d.Duration.Milliseconds(), d.Timestamp)
	if err != nil {
		slog.Error("audit: persist decision failed", "id", d.ID, "error", err)
	}
}

// Query returns every Decision for (user, agent) with Timestamp in
// [start, end), ordered oldest first, for the admin evidence-pack export.
func (l *PostgresAuditLogger) Query(ctx context.Context, user, agent string, start, end time.Time) ([]gateway.Decision, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, user_addr, agent_addr, method, value_wei, outcome, kind, duration_ms, occurred_at
		FROM decisions
		WHERE user_addr = $1 AND agent_addr = $2 AND occurred_at >= $3 AND occurred_at < $4
		ORDER BY occurred_at ASC`,
		user, agent, start, end)
	if err != nil {
		return nil, fmt.Errorf("audit: query decisions: %w", err)
	}
	defer rows.Close()

	var out []gateway.Decision
	for rows.Next() {
		var (
			d          gateway.Decision
			valueWei   string
			durationMs int64
		)
		if err := rows.Scan(&d.ID, &d.User, &d.Agent, &d.Method, &valueWei, &d.Outcome, &d.Kind, &durationMs, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("audit: scan decision row: %w", err)
		}
		d.ValueWei, _ = new(big.Int).SetString(valueWei, 10)
		d.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}
