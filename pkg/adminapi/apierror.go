// Package adminapi exposes the operator-facing health, policy-inspection
// and one-shot-anchor endpoints, sharing the JSON-RPC error vocabulary the
// /rpc surface uses, with one helper function per status rendering a flat
// {error:{code,message}} body.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, -32600, "missing or invalid bearer token")
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, -32600, "method not allowed")
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, -32099, message)
}

func writeInternal(w http.ResponseWriter, err error) {
	slog.Error("adminapi: internal error", "error", err)
	writeError(w, http.StatusInternalServerError, -32099, "internal error")
}
