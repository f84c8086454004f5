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
	"github.com/vango-go/callsim/pkg/core/voice/tts"
)

// Synthesizer turns text into mp3 audio. *tts.Queue implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// TTSHandler handles POST /v1/tts.
type TTSHandler struct {
	Synthesizer Synthesizer
	Timeout     time.Duration
	Logger      *slog.Logger
}

type ttsRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

func (h TTSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodPost {
		methodNotAllowed(w, reqID)
		return
	}

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid json body"), http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("text is required", "text"), http.StatusBadRequest)
		return
	}
	voiceID := strings.TrimSpace(req.VoiceID)
	if voiceID == "" {
		voiceID = tts.DefaultVoiceID
	}
	if h.Synthesizer == nil {
		writeErrorFrom(w, reqID, tts.ErrUnavailable)
		return
	}

	ctx := r.Context()
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	audio, err := h.Synthesizer.Synthesize(ctx, text, voiceID)
	if err != nil {
		if h.Logger != nil && !errors.Is(err, tts.ErrUnavailable) {
			h.Logger.Warn("speech synthesis failed", "request_id", reqID, "voice_id", voiceID, "error", err)
		}
		writeErrorFrom(w, reqID, err)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
