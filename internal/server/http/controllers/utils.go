package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Helper functions for common HTTP responses and request parsing.

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// principal extracts the requesting user from the X-User-ID header, set by
// the fronting authentication proxy. Empty means unauthenticated.
func principal(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// lastEventID resolves the subscriber's resumption watermark: the standard
// Last-Event-ID header first, then a last_event_id query parameter fallback
// for clients that cannot set headers. Returns 0 when absent or malformed.
func lastEventID(r *http.Request) uint64 {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("last_event_id")
	}
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
