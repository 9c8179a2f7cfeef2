package curation

import "time"

// Note is one entry in a narrative's ordered curation_notes list.
type Note struct {
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}
