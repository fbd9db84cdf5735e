package relay

import (
	"encoding/json"
)

// Kind tags a relay event
type Kind int

const (
	KindToken Kind = iota
	KindDone
	KindError
	KindInterrupted
	KindKeepalive
	// Voice channel events
	KindTranscript
	KindVoiceError
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	case KindInterrupted:
		return "interrupted"
	case KindKeepalive:
		return "keepalive"
	case KindTranscript:
		return "transcript"
	case KindVoiceError:
		return "voice_error"
	default:
		return "unknown"
	}
}

// Event is one unit sent to the downstream client
type Event struct {
	Kind Kind
	Text string
}

// Token carries a text chunk
func Token(text string) Event { return Event{Kind: KindToken, Text: text} }

// Done marks successful completion
func Done() Event { return Event{Kind: KindDone} }

// Error carries a diagnostic message and ends the stream
func Error(message string) Event { return Event{Kind: KindError, Text: message} }

// Interrupted marks a cancelled generation
func Interrupted() Event { return Event{Kind: KindInterrupted} }

// Keepalive is sent while a live producer stays silent
func Keepalive() Event { return Event{Kind: KindKeepalive} }

// Transcript carries a recognized utterance
func Transcript(text string) Event { return Event{Kind: KindTranscript, Text: text} }

// VoiceError reports a capture or recognizer problem without ending the stream
func VoiceError(message string) Event { return Event{Kind: KindVoiceError, Text: message} }

// Terminal reports whether the stream ends after this event
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindDone, KindError, KindInterrupted:
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the event as its frame payload
func (e Event) MarshalJSON() ([]byte, error) {
	var payload map[string]interface{}
	switch e.Kind {
	case KindToken:
		payload = map[string]interface{}{"response": e.Text}
	case KindDone:
		payload = map[string]interface{}{"done": true}
	case KindError:
		payload = map[string]interface{}{"error": e.Text}
	case KindInterrupted:
		payload = map[string]interface{}{"status": "interrupted"}
	case KindKeepalive:
		payload = map[string]interface{}{"type": "keepalive"}
	case KindTranscript:
		payload = map[string]interface{}{"text": e.Text, "status": "success"}
	case KindVoiceError:
		payload = map[string]interface{}{"error": e.Text, "status": "error"}
	default:
		payload = map[string]interface{}{}
	}
	return json.Marshal(payload)
}

// Frame returns the wire form `data: <json>\n\n`
func (e Event) Frame() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}
