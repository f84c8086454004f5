package realtime

// Inbound event types. Several spellings exist for the same logical event
// across realtime API revisions; each group below is handled identically.
const (
	EventTextDelta            = "response.text.delta"
	EventOutputTextDelta      = "response.output_text.delta"
	EventAudioTranscriptDelta = "response.audio_transcript.delta"
	EventOutputAudioTxDelta   = "response.output_audio_transcript.delta"

	EventInputTranscriptionDelta       = "conversation.input_audio_transcription.delta"
	EventItemInputTranscriptionDelta   = "conversation.item.input_audio_transcription.delta"
	EventInputTranscriptionCompleted   = "conversation.item.input_audio_transcription.completed"
	EventInputTranscriptionCompletedV0 = "conversation.input_audio_transcription.completed"

	EventSpeechStarted = "input_audio_buffer.speech_started"

	EventHistoryAdded      = "history_added"
	EventHistoryUpdated    = "history_updated"
	EventItemCreated       = "conversation.item.created"
	EventOutputItemDone    = "response.output_item.done"
	EventFunctionArgsDone  = "response.function_call_arguments.done"
	EventGuardrailTripped  = "guardrail_tripped"
	EventResponseDone      = "response.done"
	EventBreadcrumb        = "breadcrumb"
	EventTransportError    = "error"
	EventSessionCreated    = "session.created"
	EventSessionUpdated    = "session.updated"
	EventTransportAudio    = "response.audio.delta"
	EventOutputAudioDelta  = "response.output_audio.delta"
	EventSpeechStopped     = "input_audio_buffer.speech_stopped"
	EventInputBufferCommit = "input_audio_buffer.committed"
)

// ignored events are well-formed but carry nothing the transcript needs.
var ignored = map[string]struct{}{
	EventTransportError:    {},
	EventSessionCreated:    {},
	EventSessionUpdated:    {},
	EventTransportAudio:    {},
	EventOutputAudioDelta:  {},
	EventSpeechStopped:     {},
	EventInputBufferCommit: {},
}
