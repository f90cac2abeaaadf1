package types

import "encoding/base64"

// JobMessage is the envelope carried by the ingestion queue. FileContent is
// base64 encoded so binary payloads (XLSX files) survive the JSON body intact.
type JobMessage struct {
	JobID       string `json:"job_id"`
	FileContent string `json:"file_content"` // base64 encoded
}

// NewJobMessage builds an envelope from the raw uploaded bytes.
func NewJobMessage(jobID string, payload []byte) JobMessage {
	return JobMessage{
		JobID:       jobID,
		FileContent: base64.StdEncoding.EncodeToString(payload),
	}
}

// Payload decodes the original file bytes.
func (m JobMessage) Payload() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.FileContent)
}

// Record is one parsed catalog row. All fields are free-form text; duration
// and release_year look numeric in most source files but are stored as text,
// matching the upstream data.
type Record struct {
	ShowID      string
	Type        string
	Title       string
	Director    string
	Cast        string
	Country     string
	DateAdded   string
	ReleaseYear string
	Rating      string
	Duration    string
	ListedIn    string
	Description string
}
