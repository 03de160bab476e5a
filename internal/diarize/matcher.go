package diarize

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Matching thresholds.
const (
	DefaultParticipantThreshold = 0.5
	DefaultFuzzyThreshold       = 0.6
	CorrectionThreshold         = 0.8
	CorrectionConfidence        = 0.9
	ParticipantBonus            = 0.2
)

// Speaker is one person a segment can be attributed to.
type Speaker struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Match is the outcome of one attribution attempt. Reason is one of
// "correction", "participant", "fuzzy", or "placeholder".
type Match struct {
	SpeakerID  string  `json:"speaker_id,omitempty"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// MatcherStats describes attribution activity for monitoring.
type MatcherStats struct {
	TotalMatches       uint64 `json:"total_matches"`
	CorrectionMatches  uint64 `json:"correction_matches"`
	ParticipantMatches uint64 `json:"participant_matches"`
	FuzzyMatches       uint64 `json:"fuzzy_matches"`
	Placeholders       uint64 `json:"placeholders"`
}

// Matcher resolves recognized speaker names to roster entries. Participants
// are the people invited to the current meeting; the full speaker list may be
// wider (for example, everyone seen across past meetings). Corrections
// learned from earlier human fixes take priority over both.
type Matcher struct {
	ParticipantThreshold float64
	FuzzyThreshold       float64

	store  *CorrectionStore
	logger *slog.Logger

	mu                 sync.Mutex
	participants       []Speaker
	speakers           []Speaker
	placeholderCounter int
	placeholderByName  map[string]string

	totalMatches       uint64
	correctionMatches  uint64
	participantMatches uint64
	fuzzyMatches       uint64
	placeholders       uint64
}

// NewMatcher creates a matcher. The store may be nil when no correction
// history is available.
func NewMatcher(store *CorrectionStore, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		ParticipantThreshold: DefaultParticipantThreshold,
		FuzzyThreshold:       DefaultFuzzyThreshold,
		store:                store,
		logger:               logger,
		placeholderByName:    make(map[string]string),
	}
}

// SetParticipants replaces the current meeting's roster.
func (m *Matcher) SetParticipants(participants []Speaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = append([]Speaker(nil), participants...)
}

// SetSpeakers replaces the wider known-speaker list.
func (m *Matcher) SetSpeakers(speakers []Speaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speakers = append([]Speaker(nil), speakers...)
}

// Match attributes a recognized name to a speaker. Corrections win first
// with a fixed high confidence, then meeting participants with a lowered
// threshold and a bonus for being in the room, then the full speaker list.
// Unresolved names get a stable placeholder label for the current pass.
func (m *Matcher) Match(recognized string) Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalMatches++

	normalized := normalizeName(recognized)
	if normalized == "" {
		m.placeholders++
		return m.placeholderLocked(recognized)
	}

	if m.store != nil {
		if speakerID, ok := m.store.Lookup(normalized, CorrectionThreshold); ok {
			m.correctionMatches++
			label := m.labelForLocked(speakerID)
			m.logger.Debug("speaker matched via correction",
				"recognized", recognized,
				"speaker_id", speakerID)
			return Match{
				SpeakerID:  speakerID,
				Label:      label,
				Confidence: CorrectionConfidence,
				Reason:     "correction",
			}
		}
	}

	if best, score := bestCandidate(normalized, m.participants); best != nil && score >= m.ParticipantThreshold {
		score += ParticipantBonus
		if score > 1.0 {
			score = 1.0
		}
		m.participantMatches++
		m.logger.Debug("speaker matched via participants",
			"recognized", recognized,
			"speaker_id", best.ID,
			"confidence", score)
		return Match{
			SpeakerID:  best.ID,
			Label:      best.Name,
			Confidence: score,
			Reason:     "participant",
		}
	}

	if best, score := bestCandidate(normalized, m.speakers); best != nil && score >= m.FuzzyThreshold {
		m.fuzzyMatches++
		m.logger.Debug("speaker matched via fuzzy lookup",
			"recognized", recognized,
			"speaker_id", best.ID,
			"confidence", score)
		return Match{
			SpeakerID:  best.ID,
			Label:      best.Name,
			Confidence: score,
			Reason:     "fuzzy",
		}
	}

	m.placeholders++
	return m.placeholderLocked(recognized)
}

// placeholderLocked assigns or reuses a "Speaker N" label for an unresolved
// name. The same recognized name keeps the same label within one pass.
func (m *Matcher) placeholderLocked(recognized string) Match {
	key := normalizeName(recognized)
	if label, ok := m.placeholderByName[key]; ok {
		return Match{Label: label, Reason: "placeholder"}
	}
	m.placeholderCounter++
	label := fmt.Sprintf("Speaker %d", m.placeholderCounter)
	if key != "" {
		m.placeholderByName[key] = label
	}
	return Match{Label: label, Reason: "placeholder"}
}

// ResetPass restarts placeholder numbering. Call at the start of each full
// matching pass so labels stay deterministic across re-runs.
func (m *Matcher) ResetPass() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeholderCounter = 0
	m.placeholderByName = make(map[string]string)
}

// Learn records a human correction mapping a recognized name to a speaker.
func (m *Matcher) Learn(recognized, speakerID string) error {
	if m.store == nil {
		return fmt.Errorf("no correction store configured")
	}
	normalized := normalizeName(recognized)
	if normalized == "" {
		return fmt.Errorf("recognized name is empty")
	}
	return m.store.Save(normalized, speakerID)
}

// labelForLocked returns the display name for a speaker ID, falling back to
// the ID itself. Caller holds m.mu.
func (m *Matcher) labelForLocked(speakerID string) string {
	for i := range m.participants {
		if m.participants[i].ID == speakerID {
			return m.participants[i].Name
		}
	}
	for i := range m.speakers {
		if m.speakers[i].ID == speakerID {
			return m.speakers[i].Name
		}
	}
	return speakerID
}

// GetStats returns current matcher statistics.
func (m *Matcher) GetStats() MatcherStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MatcherStats{
		TotalMatches:       m.totalMatches,
		CorrectionMatches:  m.correctionMatches,
		ParticipantMatches: m.participantMatches,
		FuzzyMatches:       m.fuzzyMatches,
		Placeholders:       m.placeholders,
	}
}

// bestCandidate scores the recognized name against every candidate's name
// and email local-part and returns the highest-scoring speaker.
func bestCandidate(normalized string, candidates []Speaker) (*Speaker, float64) {
	var best *Speaker
	var bestScore float64
	for i := range candidates {
		score := Similarity(normalized, normalizeName(candidates[i].Name))
		if local := emailLocalPart(candidates[i].Email); local != "" {
			if s := Similarity(normalized, local); s > score {
				score = s
			}
		}
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	return best, bestScore
}

// Similarity scores two normalized names in [0, 1]. Containment is scaled by
// the length ratio so "Pete" inside "Peter Johnson" does not count as a full
// match; otherwise edit distance over the longer length decides.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	var containment float64
	shorter, longer := a, b
	if len([]rune(shorter)) > len([]rune(longer)) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		containment = float64(len([]rune(shorter))) / float64(len([]rune(longer)))
	}

	maxLen := len([]rune(longer))
	distance := levenshtein.ComputeDistance(a, b)
	editScore := 1 - float64(distance)/float64(maxLen)
	if editScore < 0 {
		editScore = 0
	}

	if containment > editScore {
		return containment
	}
	return editScore
}

// normalizeName lowercases and collapses whitespace and punctuation so that
// "Dr. Peter  Johnson" and "peter johnson" compare equal.
func normalizeName(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// emailLocalPart returns the normalized part before '@', or "".
func emailLocalPart(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return normalizeName(strings.ReplaceAll(email[:at], ".", " "))
}

// ExtractSpeakerName splits a "Name: text" transcription prefix into the
// speaker name and the remaining text. Returns ok=false when the text has no
// plausible name prefix.
func ExtractSpeakerName(text string) (name, rest string, ok bool) {
	trimmed := strings.TrimSpace(text)
	colon := strings.Index(trimmed, ":")
	if colon <= 0 {
		return "", trimmed, false
	}
	candidate := strings.TrimSpace(trimmed[:colon])
	if candidate == "" || len([]rune(candidate)) > 40 {
		return "", trimmed, false
	}
	// A name prefix is a few words of letters, not a clause.
	words := strings.Fields(candidate)
	if len(words) > 4 {
		return "", trimmed, false
	}
	for _, w := range words {
		for _, r := range w {
			if !unicode.IsLetter(r) && r != '.' && r != '-' && r != '\'' {
				return "", trimmed, false
			}
		}
	}
	return candidate, strings.TrimSpace(trimmed[colon+1:]), true
}
