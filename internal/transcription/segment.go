package transcription

// Segment is one accepted piece of the transcript, ready for display. The
// speaker attribution carries both the committed assignment and the matcher's
// suggestion so a UI can offer a correction flow: SpeakerID is set once a
// human confirms, SuggestedSpeakerID is the automatic guess.
type Segment struct {
	ID                 string  `json:"id"`
	Text               string  `json:"text"`
	StartMs            int64   `json:"start_ms"`
	EndMs              int64   `json:"end_ms"`
	SpeakerID          *string `json:"speaker_id,omitempty"`
	SuggestedSpeakerID *string `json:"suggested_speaker_id,omitempty"`
	SpeakerLabel       string  `json:"speaker_label"`
	Confidence         float64 `json:"confidence"`
	HasConfidence      bool    `json:"has_confidence"`
	MatchConfidence    float64 `json:"match_confidence,omitempty"`
	MatchReason        string  `json:"match_reason,omitempty"`
	Confirmed          bool    `json:"confirmed"`
}
