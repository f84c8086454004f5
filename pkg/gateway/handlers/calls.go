package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/callsim/pkg/core"
	"github.com/vango-go/callsim/pkg/core/calls"
	"github.com/vango-go/callsim/pkg/store"
)

// Reanalyzer re-runs transcript analysis for a stored call.
type Reanalyzer interface {
	Reanalyze(ctx context.Context, callID string) (*store.Call, error)
}

// CallsHandler serves the call record API under /v1/calls.
type CallsHandler struct {
	Store    store.CallStore
	Analyzer Reanalyzer
	Logger   *slog.Logger
	Now      func() time.Time
}

type createCallRequest struct {
	CallerName      string         `json:"caller_name"`
	CallerPhone     string         `json:"caller_phone"`
	CallerAddress   string         `json:"caller_address"`
	CallType        store.CallType `json:"call_type"`
	LocationType    string         `json:"location_type"`
	LocationDetails string         `json:"location_details"`
	Latitude        *float64       `json:"latitude"`
	Longitude       *float64       `json:"longitude"`
	PriorityLevel   int            `json:"priority_level"`
	Description     string         `json:"description"`
	DispatcherNotes string         `json:"dispatcher_notes"`
}

// List handles GET /v1/calls.
func (h CallsHandler) List(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if h.Store == nil {
		writeErrorFrom(w, reqID, calls.ErrDisabled)
		return
	}

	q := r.URL.Query()
	filter := store.ListFilter{Status: store.CallStatus(strings.TrimSpace(q.Get("status")))}
	if filter.Status != "" && !store.ValidCallStatus(filter.Status) {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("invalid status", "status"), http.StatusBadRequest)
		return
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("limit must be a positive integer", "limit"), http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	list, err := h.Store.ListCalls(r.Context(), filter)
	if err != nil {
		h.logError(r, "list calls failed", err)
		writeErrorFrom(w, reqID, err)
		return
	}
	if list == nil {
		list = []store.Call{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": list})
}

// Latest handles GET /v1/calls/latest.
func (h CallsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if h.Store == nil {
		writeErrorFrom(w, reqID, calls.ErrDisabled)
		return
	}
	call, err := h.Store.LatestCall(r.Context())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logError(r, "latest call failed", err)
		}
		writeErrorFrom(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// Get handles GET /v1/calls/{id}.
func (h CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if h.Store == nil {
		writeErrorFrom(w, reqID, calls.ErrDisabled)
		return
	}
	call, err := h.Store.GetCall(r.Context(), r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logError(r, "get call failed", err)
		}
		writeErrorFrom(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// Create handles POST /v1/calls: a pending record opened before a call
// starts.
func (h CallsHandler) Create(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if h.Store == nil {
		writeErrorFrom(w, reqID, calls.ErrDisabled)
		return
	}

	var req createCallRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "request body too large", Code: "body_too_large"}, http.StatusRequestEntityTooLarge)
			return
		}
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid json body"), http.StatusBadRequest)
		return
	}

	priority := req.PriorityLevel
	if priority == 0 {
		priority = 3
	}
	call := &store.Call{
		CallerName:      strings.TrimSpace(req.CallerName),
		CallerPhone:     strings.TrimSpace(req.CallerPhone),
		CallerAddress:   strings.TrimSpace(req.CallerAddress),
		CallType:        req.CallType,
		CallStatus:      store.CallStatusPending,
		LocationType:    req.LocationType,
		LocationDetails: req.LocationDetails,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		PriorityLevel:   priority,
		Description:     req.Description,
		DispatcherNotes: req.DispatcherNotes,
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	if err := store.Prepare(call, now()); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError(err.Error()), http.StatusBadRequest)
		return
	}
	if err := h.Store.CreateCall(r.Context(), call); err != nil {
		h.logError(r, "create call failed", err)
		writeErrorFrom(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusCreated, call)
}

// Analyze handles POST /v1/calls/{id}/analyze.
func (h CallsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if h.Analyzer == nil {
		writeErrorFrom(w, reqID, calls.ErrDisabled)
		return
	}
	call, err := h.Analyzer.Reanalyze(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logError(r, "reanalyze call failed", err)
		writeErrorFrom(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h CallsHandler) logError(r *http.Request, msg string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn(msg, "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
}
