package diarize

import (
	"math"
	"testing"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
		tol  float64
	}{
		{"exact", "peter johnson", "peter johnson", 1.0, 0},
		{"empty left", "", "peter", 0, 0},
		{"empty right", "peter", "", 0, 0},
		{"one edit", "petr", "peter", 0.8, 1e-9},
		{"containment scaled by length", "pete", "peter johnson", 4.0 / 13.0, 1e-9},
		{"unrelated", "alice", "zygmunt", 0, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Similarity(%q, %q) = %f, expected %f", tt.a, tt.b, got, tt.want)
			}
			if rev := Similarity(tt.b, tt.a); math.Abs(rev-got) > 1e-9 {
				t.Errorf("Expected symmetric similarity, got %f and %f", got, rev)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Peter Johnson", "peter johnson"},
		{"  Dr. Peter  Johnson  ", "dr peter johnson"},
		{"O'Brien-Smith", "o brien smith"},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := normalizeName(tt.in); got != tt.want {
			t.Errorf("normalizeName(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestMatchParticipant(t *testing.T) {
	m := NewMatcher(nil, nil)
	m.SetParticipants([]Speaker{
		{ID: "a1", Name: "Alice", Email: "alice@example.com"},
		{ID: "b1", Name: "Robert Martin", Email: "bob.martin@example.com"},
	})

	// One edit away from "alice": 0.8 similarity plus the participant bonus.
	match := m.Match("Alise")
	if match.SpeakerID != "a1" {
		t.Fatalf("Expected match to a1, got '%s'", match.SpeakerID)
	}
	if match.Reason != "participant" {
		t.Errorf("Expected reason 'participant', got '%s'", match.Reason)
	}
	if math.Abs(match.Confidence-1.0) > 1e-9 {
		t.Errorf("Expected 0.8 + 0.2 bonus capped at 1.0, got %f", match.Confidence)
	}
}

func TestMatchParticipantViaEmail(t *testing.T) {
	m := NewMatcher(nil, nil)
	m.SetParticipants([]Speaker{
		{ID: "b1", Name: "Robert Martin", Email: "bob.martin@example.com"},
	})

	// "Bob Martin" misses the display name but matches the email local-part.
	match := m.Match("Bob Martin")
	if match.SpeakerID != "b1" {
		t.Fatalf("Expected email local-part to resolve b1, got '%s'", match.SpeakerID)
	}
	if match.Label != "Robert Martin" {
		t.Errorf("Expected display name label, got '%s'", match.Label)
	}
	if match.Reason != "participant" {
		t.Errorf("Expected reason 'participant', got '%s'", match.Reason)
	}
}

func TestMatchFuzzyFallsBackToAllSpeakers(t *testing.T) {
	m := NewMatcher(nil, nil)
	m.SetSpeakers([]Speaker{
		{ID: "s1", Name: "John"},
		{ID: "s2", Name: "Margaret"},
	})

	match := m.Match("Jon")
	if match.SpeakerID != "s1" {
		t.Fatalf("Expected fuzzy match to s1, got '%s'", match.SpeakerID)
	}
	if match.Reason != "fuzzy" {
		t.Errorf("Expected reason 'fuzzy', got '%s'", match.Reason)
	}
	// No bonus outside the participant list.
	if math.Abs(match.Confidence-0.75) > 1e-9 {
		t.Errorf("Expected raw similarity 0.75, got %f", match.Confidence)
	}
}

func TestMatchPlaceholderStability(t *testing.T) {
	m := NewMatcher(nil, nil)

	first := m.Match("Unknown Voice")
	if first.Reason != "placeholder" {
		t.Fatalf("Expected placeholder, got '%s'", first.Reason)
	}
	if first.Label != "Speaker 1" {
		t.Errorf("Expected 'Speaker 1', got '%s'", first.Label)
	}

	// The same name keeps its label; a new name gets the next number.
	if again := m.Match("unknown  voice"); again.Label != "Speaker 1" {
		t.Errorf("Expected stable label for repeated name, got '%s'", again.Label)
	}
	if second := m.Match("Other Voice"); second.Label != "Speaker 2" {
		t.Errorf("Expected 'Speaker 2', got '%s'", second.Label)
	}

	m.ResetPass()
	if fresh := m.Match("Other Voice"); fresh.Label != "Speaker 1" {
		t.Errorf("Expected numbering to restart after ResetPass, got '%s'", fresh.Label)
	}
}

func TestMatchCorrectionWinsFirst(t *testing.T) {
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	m := NewMatcher(store, nil)
	m.SetParticipants([]Speaker{{ID: "a1", Name: "Alice"}})

	if err := m.Learn("Big Al", "a1"); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}

	// "Big Al" is nowhere near "Alice", but the learned correction resolves it.
	match := m.Match("Big Al")
	if match.SpeakerID != "a1" {
		t.Fatalf("Expected correction to resolve a1, got '%s'", match.SpeakerID)
	}
	if match.Reason != "correction" {
		t.Errorf("Expected reason 'correction', got '%s'", match.Reason)
	}
	if math.Abs(match.Confidence-CorrectionConfidence) > 1e-9 {
		t.Errorf("Expected fixed confidence %f, got %f", CorrectionConfidence, match.Confidence)
	}
	if match.Label != "Alice" {
		t.Errorf("Expected roster label 'Alice', got '%s'", match.Label)
	}
}

func TestMatcherStats(t *testing.T) {
	m := NewMatcher(nil, nil)
	m.SetParticipants([]Speaker{{ID: "a1", Name: "Alice"}})

	m.Match("Alice")
	m.Match("Nobody Known")

	stats := m.GetStats()
	if stats.TotalMatches != 2 {
		t.Errorf("Expected 2 total matches, got %d", stats.TotalMatches)
	}
	if stats.ParticipantMatches != 1 {
		t.Errorf("Expected 1 participant match, got %d", stats.ParticipantMatches)
	}
	if stats.Placeholders != 1 {
		t.Errorf("Expected 1 placeholder, got %d", stats.Placeholders)
	}
}

func TestLearnWithoutStore(t *testing.T) {
	m := NewMatcher(nil, nil)
	if err := m.Learn("Alice", "a1"); err == nil {
		t.Errorf("Expected error learning without a store")
	}
}

func TestExtractSpeakerName(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
		wantRest string
		wantOK   bool
	}{
		{"simple prefix", "Alice: hello there", "Alice", "hello there", true},
		{"hyphenated name", "Dr. O'Brien-Smith: agreed", "Dr. O'Brien-Smith", "agreed", true},
		{"no colon", "just a plain sentence", "", "just a plain sentence", false},
		{"leading colon", ": orphaned text", "", ": orphaned text", false},
		{"clause before colon", "The main thing we need to decide: budget", "",
			"The main thing we need to decide: budget", false},
		{"timestamp", "12:30 meeting start", "", "12:30 meeting start", false},
		{"no space after colon", "Bob:fine by me", "Bob", "fine by me", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, rest, ok := ExtractSpeakerName(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ExtractSpeakerName(%q): expected ok=%v, got %v", tt.text, tt.wantOK, ok)
			}
			if name != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, name)
			}
			if rest != tt.wantRest {
				t.Errorf("Expected rest %q, got %q", tt.wantRest, rest)
			}
		})
	}
}
