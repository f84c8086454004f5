// Package protocol defines the frames exchanged on the live call relay
// websocket. After the hello handshake every client text frame is a realtime
// event forwarded to the reconcile engine, except reserved control frames.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/callsim/pkg/core/transcript"
)

const (
	ProtocolVersion1 = "1"

	ControlEndCall = "end_call"
	ControlPing    = "ping"

	AudioFormatMP3 = "mp3"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ClientHello opens a call. Agents is the roster the caller may be handed
// between; ActiveAgent defaults to the first entry.
type ClientHello struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ScenarioKey     string       `json:"scenario_key,omitempty"`
	Agents          []string     `json:"agents"`
	ActiveAgent     string       `json:"active_agent,omitempty"`
	Operator        string       `json:"operator,omitempty"`
	Client          *HelloClient `json:"client,omitempty"`
}

// RedactedForLog omits the operator name.
func (h ClientHello) RedactedForLog() map[string]any {
	out := map[string]any{
		"type":             h.Type,
		"protocol_version": h.ProtocolVersion,
		"scenario_key":     h.ScenarioKey,
		"agents":           append([]string(nil), h.Agents...),
		"active_agent":     h.ActiveAgent,
		"has_operator":     strings.TrimSpace(h.Operator) != "",
	}
	if h.Client != nil {
		out["client"] = map[string]any{
			"name":     h.Client.Name,
			"version":  h.Client.Version,
			"platform": h.Client.Platform,
		}
	}
	return out
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// RealtimeEvent is an opaque event from the speech-to-speech session. Raw is
// the frame exactly as received.
type RealtimeEvent struct {
	Type string
	Raw  []byte
}

// DecodeClientMessage returns ClientHello, ClientControl or RealtimeEvent.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		return NormalizeHello(msg)
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case ControlEndCall, ControlPing:
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return RealtimeEvent{Type: typ, Raw: raw}, nil
	}
}

// ValidateHello reports whether msg would be accepted by NormalizeHello.
func ValidateHello(msg ClientHello) error {
	_, err := NormalizeHello(msg)
	return err
}

// NormalizeHello trims the roster, drops blank names and resolves the active
// agent against it.
func NormalizeHello(msg ClientHello) (ClientHello, error) {
	if msg.Type != "hello" {
		return ClientHello{}, badRequest("first frame must be hello", "type")
	}
	if msg.ProtocolVersion != ProtocolVersion1 {
		return ClientHello{}, unsupported("unsupported protocol_version", "protocol_version")
	}

	seen := make(map[string]struct{}, len(msg.Agents))
	agents := make([]string, 0, len(msg.Agents))
	for _, name := range msg.Agents {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return ClientHello{}, badRequest("duplicate agent name", "agents")
		}
		seen[key] = struct{}{}
		agents = append(agents, name)
	}
	if len(agents) == 0 {
		return ClientHello{}, badRequest("agents must not be empty", "agents")
	}

	active := strings.TrimSpace(msg.ActiveAgent)
	if active == "" {
		active = agents[0]
	} else {
		found := false
		for _, name := range agents {
			if strings.EqualFold(name, active) {
				active = name
				found = true
				break
			}
		}
		if !found {
			return ClientHello{}, badRequest("active_agent is not in agents", "active_agent")
		}
	}

	msg.Agents = agents
	msg.ActiveAgent = active
	msg.ScenarioKey = strings.TrimSpace(msg.ScenarioKey)
	msg.Operator = strings.TrimSpace(msg.Operator)
	return msg, nil
}

type HelloAckFeatures struct {
	Synthesis   bool `json:"synthesis"`
	Persistence bool `json:"persistence"`
}

type HelloAckLimits struct {
	MaxMessageBytes    int64 `json:"max_message_bytes"`
	GuardrailTimeoutMS int64 `json:"guardrail_timeout_ms,omitempty"`
	MaxDurationMS      int64 `json:"max_duration_ms,omitempty"`
}

type ServerHelloAck struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	SessionID       string           `json:"session_id"`
	ScenarioKey     string           `json:"scenario_key"`
	ActiveAgent     string           `json:"active_agent"`
	Agents          []string         `json:"agents"`
	Features        HelloAckFeatures `json:"features"`
	Limits          HelloAckLimits   `json:"limits"`
}

type ServerError struct {
	Type      string         `json:"type"`
	Scope     string         `json:"scope"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Close     bool           `json:"close,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerTranscriptItem carries the full current state of one timeline entry.
type ServerTranscriptItem struct {
	Type string          `json:"type"`
	Item transcript.Item `json:"item"`
}

type ServerAgentChanged struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
}

type ServerAssistantAudio struct {
	Type     string `json:"type"`
	ItemID   string `json:"item_id"`
	VoiceID  string `json:"voice_id,omitempty"`
	Format   string `json:"format"`
	AudioB64 string `json:"audio_b64"`
}

type ServerCallSaved struct {
	Type          string `json:"type"`
	CallID        string `json:"call_id"`
	RecordingURL  string `json:"recording_url,omitempty"`
	TranscriptURL string `json:"transcript_url,omitempty"`
}

type ServerPong struct {
	Type string `json:"type"`
}
