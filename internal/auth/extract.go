package auth

import (
	"net/http"
	"strings"
)

// BearerProtocol is the Sec-WebSocket-Protocol marker that precedes a token
// for browser clients, which cannot set an Authorization header on upgrade.
const BearerProtocol = "bearer"

// FromHeader extracts the token from an "Authorization: Bearer <token>" value.
func FromHeader(v string) string {
	parts := strings.SplitN(strings.TrimSpace(v), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// FromRequest looks for a credential in the Authorization header, the
// "token" query parameter, then the Sec-WebSocket-Protocol list
// ("bearer, <token>"). It returns "" when none is present.
func FromRequest(r *http.Request) string {
	if tok := FromHeader(r.Header.Get("Authorization")); tok != "" {
		return tok
	}
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	protos := websocketProtocols(r)
	for i, p := range protos {
		if strings.EqualFold(p, BearerProtocol) && i+1 < len(protos) {
			return protos[i+1]
		}
	}
	return ""
}

func websocketProtocols(r *http.Request) []string {
	var out []string
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
