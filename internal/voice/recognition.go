package voice

import (
	"time"
)

// Kind classifies a recognizer observation
type Kind int

const (
	// KindFragment carries recognized text
	KindFragment Kind = iota

	// KindNoSpeech reports a listen window without intelligible speech
	KindNoSpeech

	// KindTransient reports a recognition failure that does not need a restart
	KindTransient

	// KindServiceError reports that the recognizer must be restarted
	KindServiceError
)

func (k Kind) String() string {
	switch k {
	case KindFragment:
		return "fragment"
	case KindNoSpeech:
		return "no_speech"
	case KindTransient:
		return "transient"
	case KindServiceError:
		return "service_error"
	default:
		return "unknown"
	}
}

// Recognition is one observation delivered by a Listener
type Recognition struct {
	Kind       Kind
	Text       string
	Confidence float32
	At         time.Time
	Err        error
}

// Fragment returns a text observation
func Fragment(text string, confidence float32, at time.Time) Recognition {
	return Recognition{Kind: KindFragment, Text: text, Confidence: confidence, At: at}
}

// NoSpeech returns a no-speech observation
func NoSpeech(at time.Time) Recognition {
	return Recognition{Kind: KindNoSpeech, At: at}
}

// Transient returns a recoverable failure observation
func Transient(err error, at time.Time) Recognition {
	return Recognition{Kind: KindTransient, Err: err, At: at}
}

// ServiceFailure returns an observation that requires a listener restart
func ServiceFailure(err error, at time.Time) Recognition {
	return Recognition{Kind: KindServiceError, Err: err, At: at}
}
