// Package identity resolves the (user, agent) routing identity for one
// request as an explicit, independently-testable function rather than
// ad-hoc header/body fallback scattered through the handler.
package identity

import "strings"

// Defaults carries the configured fallback identity (config's
// AdminDefaultUser/AdminDefaultAgent).
type Defaults struct {
	User  string
	Agent string
}

// Tx is the subset of a parsed transaction identity resolution needs.
type Tx struct {
	From string
}

// Headers carries the two identity override headers.
type Headers struct {
	User  string
	Agent string
}

// Resolve implements the priority order: explicit headers, then
// the transaction's from field (for the user only — agents are never
// inferred from a transaction, per the registry's (user, agent) model),
// then configured defaults. Identity is always lowercased before use, so
// case never affects ledger or queue key routing.
func Resolve(h Headers, tx Tx, d Defaults) (user, agent string) {
	user = firstNonEmpty(h.User, tx.From, d.User)
	agent = firstNonEmpty(h.Agent, d.Agent)
	return strings.ToLower(user), strings.ToLower(agent)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
