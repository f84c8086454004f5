package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/callsim/pkg/core/calls"
	"github.com/vango-go/callsim/pkg/core/transcript"
	"github.com/vango-go/callsim/pkg/gateway/live/protocol"
)

type stubSynth struct {
	mu    sync.Mutex
	texts []string
	audio []byte
}

func (s *stubSynth) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text+"|"+voiceID)
	return s.audio, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []calls.Session
	outcome  calls.Outcome
	err      error
}

func (f *fakeRecorder) Enabled() bool { return true }

func (f *fakeRecorder) Record(ctx context.Context, s calls.Session) (calls.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, s)
	return f.outcome, f.err
}

func (f *fakeRecorder) recorded() []calls.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]calls.Session(nil), f.sessions...)
}

type harness struct {
	client *websocket.Conn
	done   chan error
}

func startSession(t *testing.T, deps Dependencies) *harness {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(deps.Hello.Agents) == 0 {
		deps.Hello = protocol.ClientHello{
			Type:            "hello",
			ProtocolVersion: protocol.ProtocolVersion1,
			ScenarioKey:     "house_fire",
			Agents:          []string{"Rachel", "Arnold"},
			ActiveAgent:     "Rachel",
			Operator:        "op-1",
		}
	}
	if deps.SessionID == "" {
		deps.SessionID = "s_test"
	}
	if deps.Config.PingInterval == 0 {
		deps.Config.PingInterval = time.Hour
	}
	if deps.Config.WriteTimeout == 0 {
		deps.Config.WriteTimeout = time.Second
	}
	if deps.Config.TeardownTimeout == 0 {
		deps.Config.TeardownTimeout = 2 * time.Second
	}

	done := make(chan error, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		d := deps
		d.Conn = conn
		s, err := New(d)
		if err != nil {
			done <- err
			return
		}
		done <- s.Run()
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &harness{client: client, done: done}
}

func (h *harness) send(t *testing.T, frame string) {
	t.Helper()
	if err := h.client.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write %s: %v", frame, err)
	}
}

// next reads frames until one of type typ arrives.
func (h *harness) next(t *testing.T, typ string) map[string]any {
	t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := h.client.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if frame["type"] == typ {
			return frame
		}
	}
}

// closed waits until the server closes the connection.
func (h *harness) closed(t *testing.T) {
	t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := h.client.ReadMessage(); err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatalf("connection still open")
			}
			return
		}
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not finish")
		return nil
	}
}

func TestLiveSession_EmitsAgentBreadcrumbOnStart(t *testing.T) {
	h := startSession(t, Dependencies{})

	frame := h.next(t, "transcript_item")
	item := frame["item"].(map[string]any)
	if item["kind"] != string(transcript.KindBreadcrumb) || item["content"] != "Agent: Rachel" {
		t.Fatalf("item=%v, want Agent: Rachel breadcrumb", item)
	}
}

func TestLiveSession_StreamsTranscriptItems(t *testing.T) {
	h := startSession(t, Dependencies{})
	h.next(t, "transcript_item") // agent breadcrumb

	h.send(t, `{"type":"response.output_audio_transcript.delta","item_id":"a1","delta":"Hel"}`)
	h.send(t, `{"type":"response.output_audio_transcript.delta","item_id":"a1","delta":"lo"}`)

	var content string
	for i := 0; i < 10 && content != "Hello"; i++ {
		item := h.next(t, "transcript_item")["item"].(map[string]any)
		if item["item_id"] != "a1" {
			t.Fatalf("item_id=%v, want a1", item["item_id"])
		}
		content = item["content"].(string)
	}
	if content != "Hello" {
		t.Fatalf("content=%q, want Hello", content)
	}
}

func TestLiveSession_PingPong(t *testing.T) {
	h := startSession(t, Dependencies{})
	h.send(t, `{"type":"control","op":"ping"}`)
	h.next(t, "pong")
}

func TestLiveSession_MalformedEventKeepsSessionOpen(t *testing.T) {
	h := startSession(t, Dependencies{})

	h.send(t, `{"type":"response.text.delta","delta":"orphan"}`)
	h.send(t, `not json at all`)
	h.send(t, `{"type":"some.future.event"}`)
	h.send(t, `{"type":"control","op":"ping"}`)
	h.next(t, "pong")
}

func TestLiveSession_BadControlClosesSession(t *testing.T) {
	h := startSession(t, Dependencies{})

	h.send(t, `{"type":"control","op":"reboot"}`)
	frame := h.next(t, "error")
	if frame["code"] != "unsupported" || frame["close"] != true {
		t.Fatalf("error frame=%v", frame)
	}
	h.closed(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run() error=%v", err)
	}
}

func TestLiveSession_EndCallSynthesizesAndSaves(t *testing.T) {
	synth := &stubSynth{audio: []byte("mp3-bytes")}
	rec := &fakeRecorder{outcome: calls.Outcome{CallID: "call-1", RecordingURL: "file:///rec.mp3", TranscriptURL: "file:///t.txt"}}
	h := startSession(t, Dependencies{
		Synthesizer: synth,
		Voice:       func(agent string) string { return "voice-" + agent },
		Recorder:    rec,
	})

	h.send(t, `{"type":"history_added","item":{"itemId":"a1","type":"message","role":"assistant","status":"in_progress","content":[{"type":"output_text","text":"There is smoke everywhere!"}]}}`)
	audio := h.next(t, "assistant_audio")
	if audio["item_id"] != "a1" || audio["voice_id"] != "voice-Rachel" || audio["format"] != "mp3" {
		t.Fatalf("assistant_audio=%v", audio)
	}
	decoded, err := base64.StdEncoding.DecodeString(audio["audio_b64"].(string))
	if err != nil || string(decoded) != "mp3-bytes" {
		t.Fatalf("audio=%q err=%v", decoded, err)
	}

	h.send(t, `{"type":"control","op":"end_call"}`)
	saved := h.next(t, "call_saved")
	if saved["call_id"] != "call-1" || saved["recording_url"] != "file:///rec.mp3" {
		t.Fatalf("call_saved=%v", saved)
	}
	h.closed(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run() error=%v", err)
	}

	sessions := rec.recorded()
	if len(sessions) != 1 {
		t.Fatalf("recorded=%d, want 1", len(sessions))
	}
	got := sessions[0]
	if got.SessionID != "s_test" || got.ScenarioKey != "house_fire" || got.Operator != "op-1" {
		t.Fatalf("session=%+v", got)
	}
	if len(got.Audio) != 1 || string(got.Audio[0]) != "mp3-bytes" {
		t.Fatalf("audio=%q", got.Audio)
	}
	if text := calls.TranscriptText(got.Items); text != "There is smoke everywhere!" {
		t.Fatalf("transcript=%q", text)
	}
}

func TestLiveSession_SaveFailureWarns(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	h := startSession(t, Dependencies{Recorder: rec})

	h.send(t, `{"type":"conversation.item.input_audio_transcription.completed","item_id":"u1","transcript":"My house is on fire"}`)
	h.next(t, "transcript_item")
	h.send(t, `{"type":"control","op":"end_call"}`)

	warning := h.next(t, "warning")
	if warning["code"] != "save_failed" {
		t.Fatalf("warning=%v", warning)
	}
	h.closed(t)
	if len(rec.recorded()) != 1 {
		t.Fatalf("recorder not called")
	}
}

func TestLiveSession_SilentCallNotSaved(t *testing.T) {
	rec := &fakeRecorder{outcome: calls.Outcome{CallID: "call-1"}}
	h := startSession(t, Dependencies{Recorder: rec})

	h.send(t, `{"type":"control","op":"end_call"}`)
	h.closed(t)
	_ = h.wait(t)
	if n := len(rec.recorded()); n != 0 {
		t.Fatalf("recorded=%d, want 0", n)
	}
}

func TestLiveSession_RateLimitedEventsDropped(t *testing.T) {
	h := startSession(t, Dependencies{Config: Config{MaxEventsPerSecond: 1, InboundBurstSeconds: 1}})

	h.send(t, `{"type":"response.text.delta","item_id":"a1","delta":"one"}`)
	h.send(t, `{"type":"response.text.delta","item_id":"a1","delta":"two"}`)
	warning := h.next(t, "warning")
	if warning["code"] != "rate_limited" {
		t.Fatalf("warning=%v", warning)
	}
}

func TestNew_RequiresRoster(t *testing.T) {
	if _, err := New(Dependencies{Conn: &websocket.Conn{}}); err == nil {
		t.Fatalf("expected error without agents")
	}
	if _, err := New(Dependencies{Hello: protocol.ClientHello{Agents: []string{"Rachel"}}}); err == nil {
		t.Fatalf("expected error without connection")
	}
}

func TestLiveSession_HandoffReportsNewAgent(t *testing.T) {
	agents := make(chan string, 1)
	h := startSession(t, Dependencies{OnAgentChange: func(agent string) { agents <- agent }})
	h.send(t, `{"type":"response.function_call_arguments.done","item_id":"fc1","name":"transfer_to_arnold","arguments":"{}"}`)

	frame := h.next(t, "agent_changed")
	if frame["to"] != "Arnold" {
		t.Fatalf("agent_changed=%v, want to=Arnold", frame)
	}
	select {
	case got := <-agents:
		if got != "Arnold" {
			t.Fatalf("OnAgentChange(%q), want Arnold", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("OnAgentChange not called")
	}
}

func TestSessionObserver_DropWarningThrottled(t *testing.T) {
	var buf strings.Builder
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &LiveSession{
		logger:           slog.New(slog.NewTextHandler(&buf, nil)),
		now:              func() time.Time { return now },
		outboundNormal:   make(chan outboundFrame),
		outboundPriority: make(chan outboundFrame),
	}
	o := sessionObserver{s: s}
	item := transcript.Item{ID: "a1", Kind: transcript.KindMessage, Role: transcript.RoleAssistant}

	for i := 0; i < 5; i++ {
		o.ItemChanged(item)
	}
	if got := strings.Count(buf.String(), "frames dropped"); got != 1 {
		t.Fatalf("warnings=%d, want 1", got)
	}
	if s.droppedFrames() != 5 {
		t.Fatalf("dropped=%d, want 5", s.droppedFrames())
	}

	now = now.Add(2 * time.Second)
	o.ItemChanged(item)
	if got := strings.Count(buf.String(), "frames dropped"); got != 2 {
		t.Fatalf("warnings=%d, want 2", got)
	}
}
