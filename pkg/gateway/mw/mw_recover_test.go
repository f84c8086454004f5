package mw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/callsim/pkg/core"
)

func TestRecover_HandlerPanicBecomesAPIError(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	h := RequestID(Recover(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("analyzer exploded")
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/c1/analyze", nil)
	req.Header.Set("X-Request-ID", "req_panic")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rr.Code)
	}
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal %q: %v", rr.Body.String(), err)
	}
	if env.Error.Type != core.ErrAPI || env.Error.RequestID != "req_panic" {
		t.Fatalf("error=%+v", env.Error)
	}
	if strings.Contains(rr.Body.String(), "analyzer exploded") {
		t.Fatalf("body leaks panic value: %q", rr.Body.String())
	}
	if !strings.Contains(logs.String(), "analyzer exploded") || !strings.Contains(logs.String(), "path=/v1/calls/c1/analyze") {
		t.Fatalf("log=%q", logs.String())
	}
}

func TestRecover_AbortHandlerPropagates(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want ErrAbortHandler", v)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/calls/live", nil))
}
