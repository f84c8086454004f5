// Package apierror maps errors from the call store, speech synthesis and
// analysis layers onto canonical API errors and HTTP statuses.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/callsim/pkg/core"
	"github.com/vango-go/callsim/pkg/core/analysis"
	"github.com/vango-go/callsim/pkg/core/calls"
	"github.com/vango-go/callsim/pkg/core/voice/tts"
	"github.com/vango-go/callsim/pkg/store"
	"github.com/vango-go/callsim/pkg/store/artifacts"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return &core.Error{
			Type:      core.ErrNotFound,
			Message:   "call not found",
			RequestID: requestID,
		}, http.StatusNotFound
	case errors.Is(err, artifacts.ErrNotFound):
		return &core.Error{
			Type:      core.ErrNotFound,
			Message:   "call artifact not found",
			Code:      "artifact_not_found",
			RequestID: requestID,
		}, http.StatusNotFound
	case errors.Is(err, tts.ErrUnavailable):
		return &core.Error{
			Type:      core.ErrUnavailable,
			Message:   "speech synthesis unavailable",
			Code:      "tts_unavailable",
			RequestID: requestID,
		}, http.StatusServiceUnavailable
	case errors.Is(err, calls.ErrDisabled):
		return &core.Error{
			Type:      core.ErrUnavailable,
			Message:   "call persistence is not configured",
			Code:      "persistence_disabled",
			RequestID: requestID,
		}, http.StatusServiceUnavailable
	case errors.Is(err, calls.ErrNoTranscript):
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   "call has no saved transcript",
			Code:      "no_transcript",
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, analysis.ErrNotConfigured):
		return &core.Error{
			Type:      core.ErrUnavailable,
			Message:   "transcript analysis is not configured",
			Code:      "analysis_disabled",
			RequestID: requestID,
		}, http.StatusServiceUnavailable
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrUnavailable:
		return http.StatusServiceUnavailable
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
