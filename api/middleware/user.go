package middleware

import "net/http"

// UserID resolves the caller identity. Real authentication is an external
// collaborator per scope; this trusts an upstream-set header, the same
// boundary a gateway-fronted service would enforce before traffic reaches
// this one.
func UserID(r *http.Request) string {
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return "anonymous"
}
