package filter

import (
	"regexp"
	"strings"
)

// Post-filter defaults.
const (
	DefaultMinConfidence = 0.4
	DefaultMinTextLength = 5
)

// Classifier decides whether a transcription result looks like a model
// hallucination or noise artifact. Implementations can be swapped without
// touching orchestration logic.
type Classifier interface {
	Classify(text string) (reject bool, rule string)
}

// Rule is a single hallucination-detection rule.
type Rule interface {
	Name() string
	Match(text string) bool
}

// substringRule matches case-insensitively on a fixed phrase.
type substringRule struct {
	name   string
	phrase string
}

func (r substringRule) Name() string { return r.name }

func (r substringRule) Match(text string) bool {
	return strings.Contains(strings.ToLower(text), r.phrase)
}

// patternRule matches a compiled regular expression.
type patternRule struct {
	name    string
	pattern *regexp.Regexp
}

func (r patternRule) Name() string { return r.name }

func (r patternRule) Match(text string) bool {
	return r.pattern.MatchString(strings.TrimSpace(text))
}

// Substring creates a case-insensitive phrase rule.
func Substring(name, phrase string) Rule {
	return substringRule{name: name, phrase: strings.ToLower(phrase)}
}

// Pattern creates a regular-expression rule.
func Pattern(name, expr string) Rule {
	return patternRule{name: name, pattern: regexp.MustCompile(expr)}
}

// RuleClassifier runs a list of rules and rejects on the first match.
type RuleClassifier struct {
	rules []Rule
}

// NewRuleClassifier creates a classifier from the given rules.
func NewRuleClassifier(rules ...Rule) *RuleClassifier {
	return &RuleClassifier{rules: rules}
}

// Add appends rules to the classifier.
func (c *RuleClassifier) Add(rules ...Rule) {
	c.rules = append(c.rules, rules...)
}

// Classify reports whether any rule matches the text.
func (c *RuleClassifier) Classify(text string) (bool, string) {
	for _, r := range c.rules {
		if r.Match(text) {
			return true, r.Name()
		}
	}
	return false, ""
}

// DefaultRules returns the curated artifact patterns observed from
// speech-recognition models on low-information audio: promotional phrases,
// no-speech/music/credit markers, and bracketed stage directions.
func DefaultRules() []Rule {
	return []Rule{
		Substring("promo_watching", "thanks for watching"),
		Substring("promo_watching_short", "thank you for watching"),
		Substring("promo_subscribe", "don't forget to subscribe"),
		Substring("promo_subscribe_short", "please subscribe"),
		Substring("promo_like", "like and subscribe"),
		Substring("credits_subtitles", "subtitles by"),
		Substring("credits_transcribed", "transcribed by"),
		Substring("credits_amara", "amara.org"),
		Substring("credits_url", "www."),
		Substring("marker_no_speech", "no speech"),
		Substring("marker_music_note", "♪"),
		Pattern("marker_bracketed", `^[\[(][^\])]*[\])]$`),
		Pattern("marker_only_punct", `^[\s.,!?\-]*$`),
	}
}

// PostFilter rejects transcription results that are too uncertain, too
// short, or classified as hallucinations. A rejection discards the text but
// is not a pipeline error.
type PostFilter struct {
	MinConfidence float64
	MinTextLength int

	classifier Classifier
}

// NewPostFilter creates a post-filter with the default rule classifier.
func NewPostFilter() *PostFilter {
	return &PostFilter{
		MinConfidence: DefaultMinConfidence,
		MinTextLength: DefaultMinTextLength,
		classifier:    NewRuleClassifier(DefaultRules()...),
	}
}

// WithClassifier replaces the hallucination classifier.
func (f *PostFilter) WithClassifier(c Classifier) *PostFilter {
	f.classifier = c
	return f
}

// Accept decides whether a transcription result should become a segment.
// hasConfidence distinguishes a missing confidence value (accepted) from a
// low one (rejected).
func (f *PostFilter) Accept(text string, confidence float64, hasConfidence bool) (ok bool, reason string) {
	if hasConfidence && confidence < f.MinConfidence {
		return false, "low_confidence"
	}
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < f.MinTextLength {
		return false, "too_short"
	}
	if reject, rule := f.classifier.Classify(trimmed); reject {
		return false, "hallucination:" + rule
	}
	return true, ""
}
