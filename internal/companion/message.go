package companion

import "encoding/json"

// Event names on the companion channel
const (
	EventVoiceInput = "voice-input"
	EventChatInput  = "chat-input"
	EventPing       = "ping"
	EventPong       = "pong"
	EventError      = "error"
)

// Message is one frame on the companion channel
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TextPayload carries recognized or forwarded text
type TextPayload struct {
	Text string `json:"text"`
}

// ErrorPayload describes a rejected message
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage encodes data as the payload of event
func NewMessage(event string, data interface{}) (Message, error) {
	if data == nil {
		return Message{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Data: raw}, nil
}
