package token

import (
	"net/http"
	"strings"
)

// ExtractBearer parses an Authorization header value of the exact
// shape "Bearer <token>". Anything else, including a bare token, a
// different scheme or extra fields, yields an empty string.
func ExtractBearer(header string) string {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return ""
	}
	return parts[1]
}

// ExtractFromRequest pulls the bearer token from the request's
// Authorization header.
func ExtractFromRequest(r *http.Request) string {
	return ExtractBearer(r.Header.Get("Authorization"))
}
