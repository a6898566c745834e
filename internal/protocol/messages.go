package protocol

import "time"

// TTSRequest asks the backend to synthesize and store speech.
type TTSRequest struct {
	RequestID   string  `json:"request_id"`
	Text        string  `json:"text"`
	Voice       string  `json:"voice,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
	MaxChars    int     `json:"max_chars,omitempty"`
	CrossfadeMS *int    `json:"crossfade_ms,omitempty"`
	Chunking    *bool   `json:"smart_chunking,omitempty"`
}

// TTSStatus reports the outcome of a TTSRequest.
type TTSStatus struct {
	RequestID       string    `json:"request_id"`
	Completed       bool      `json:"completed"`
	Filename        string    `json:"filename,omitempty"`
	AudioURL        string    `json:"audio_url,omitempty"`
	Voice           string    `json:"voice,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Chunks          int       `json:"chunks,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// LibraryEvent announces a change to the stored recordings.
type LibraryEvent struct {
	Action    string    `json:"action"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest   = "tts.request"
	SubjectTTSDone      = "tts.done"
	SubjectLibraryEvent = "library.event"
)
