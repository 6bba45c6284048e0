package gateway

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Decision is the in-memory audit record produced by one policy-pipeline
// evaluation, keyed by (user, agent) and denominated in wei.
type Decision struct {
	ID        string
	User      string
	Agent     string
	Method    string
	ValueWei  *big.Int
	Outcome   string // "admitted" | "rejected"
	Kind      string
	Duration  time.Duration
	Timestamp time.Time
}

func newDecision(user, agent, method string, value *big.Int, outcome, kind string, dur time.Duration) *Decision {
	return &Decision{
		ID:        uuid.New().String(),
		User:      user,
		Agent:     agent,
		Method:    method,
		ValueWei:  value,
		Outcome:   outcome,
		Kind:      kind,
		Duration:  dur,
		Timestamp: time.Now(),
	}
}
