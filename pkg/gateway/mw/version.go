package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/callsim/pkg/core"
	"github.com/vango-go/callsim/pkg/gateway/live/protocol"
)

const (
	versionHeader = "X-Callsim-Version"
	versionQuery  = "protocol_version"
)

// ProtocolVersion pins /v1 traffic to the relay protocol version. REST calls
// may name it in X-Callsim-Version. A live call may also name it in the
// protocol_version query parameter, which is checked before the websocket
// upgrade so a stale client gets a plain 400 instead of a failed handshake.
// Every /v1 response advertises the served version.
func ProtocolVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !isV1Path(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(versionHeader, protocol.ProtocolVersion1)

		if param, bad := requestedVersionMismatch(r); bad {
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   "unsupported protocol version; this server speaks " + protocol.ProtocolVersion1,
				Param:     param,
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestedVersionMismatch reports the first place a client asked for a
// version other than the one served.
func requestedVersionMismatch(r *http.Request) (string, bool) {
	for _, v := range splitTokens(r.Header.Values(versionHeader)) {
		if v != protocol.ProtocolVersion1 {
			return versionHeader, true
		}
	}
	if isWebSocketUpgrade(r) {
		for _, v := range splitTokens(r.URL.Query()[versionQuery]) {
			if v != protocol.ProtocolVersion1 {
				return versionQuery, true
			}
		}
	}
	return "", false
}

func isV1Path(path string) bool {
	return path == "/v1" || strings.HasPrefix(path, "/v1/")
}

func isWebSocketUpgrade(r *http.Request) bool {
	upgrade := false
	for _, v := range splitTokens(r.Header.Values("Connection")) {
		if strings.EqualFold(v, "upgrade") {
			upgrade = true
			break
		}
	}
	return upgrade && strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

// splitTokens flattens comma separated header or query values.
func splitTokens(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
