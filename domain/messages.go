package domain

// ProgressMessage is pushed to a connected client while a video job runs
type ProgressMessage struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	Phase     string `json:"phase,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// JobResultMessage closes a job's progress stream
type JobResultMessage struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// TranscriptionMessage answers a recording streamed over the websocket
type TranscriptionMessage struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ControlMessage is sent by the client over the websocket
type ControlMessage struct {
	Type     string `json:"type" validate:"required,oneof=recording_start recording_stop"`
	MIMEType string `json:"mime_type,omitempty" validate:"omitempty,max=128"`
}

// ErrorMessage reports a client message the server could not act on
type ErrorMessage struct {
	Type      string    `json:"type"`
	ErrorKind ErrorKind `json:"error_kind"`
	Message   string    `json:"message"`
}

const (
	MessageTypeProgress       = "job_progress"
	MessageTypeJobResult      = "job_result"
	MessageTypeTranscription  = "transcription"
	MessageTypeRecordingStart = "recording_start"
	MessageTypeRecordingStop  = "recording_stop"
	MessageTypeError          = "error"
)
