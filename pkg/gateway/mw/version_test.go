package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func versionedRequest(method, target string, header map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil).WithContext(WithRequestID(context.Background(), "req_v"))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return req
}

func TestProtocolVersion(t *testing.T) {
	upgrade := map[string]string{"Connection": "keep-alive, Upgrade", "Upgrade": "websocket"}

	tests := []struct {
		name      string
		req       *http.Request
		wantCode  int
		wantParam string
	}{
		{"no version", versionedRequest(http.MethodGet, "/v1/calls", nil), http.StatusNoContent, ""},
		{"header matches", versionedRequest(http.MethodPost, "/v1/tts", map[string]string{versionHeader: " 1, 1"}), http.StatusNoContent, ""},
		{"header mismatch", versionedRequest(http.MethodGet, "/v1/calls/latest", map[string]string{versionHeader: "1,2"}), http.StatusBadRequest, versionHeader},
		{"live query matches", versionedRequest(http.MethodGet, "/v1/calls/live?protocol_version=1", upgrade), http.StatusNoContent, ""},
		{"live query mismatch", versionedRequest(http.MethodGet, "/v1/calls/live?protocol_version=0", upgrade), http.StatusBadRequest, versionQuery},
		{"query ignored without upgrade", versionedRequest(http.MethodGet, "/v1/calls?protocol_version=9", nil), http.StatusNoContent, ""},
		{"health outside v1", versionedRequest(http.MethodGet, "/healthz", map[string]string{versionHeader: "2"}), http.StatusNoContent, ""},
		{"preflight", versionedRequest(http.MethodOptions, "/v1/calls", map[string]string{versionHeader: "2"}), http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ProtocolVersion(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, tt.req)

			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d, want %d body=%q", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantParam != "" {
				body := rr.Body.String()
				if !strings.Contains(body, `"code":"unsupported_version"`) || !strings.Contains(body, `"param":"`+tt.wantParam+`"`) {
					t.Fatalf("body=%q, want unsupported_version on %s", body, tt.wantParam)
				}
				if !strings.Contains(body, `"request_id":"req_v"`) {
					t.Fatalf("body=%q, want request_id", body)
				}
			}
		})
	}
}

func TestProtocolVersion_AdvertisesServedVersion(t *testing.T) {
	h := ProtocolVersion(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, versionedRequest(http.MethodGet, "/v1/scenarios", nil))
	if got := rr.Header().Get(versionHeader); got != "1" {
		t.Fatalf("%s=%q, want 1", versionHeader, got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, versionedRequest(http.MethodGet, "/readyz", nil))
	if got := rr.Header().Get(versionHeader); got != "" {
		t.Fatalf("%s=%q on non-v1 path", versionHeader, got)
	}
}
