package voice

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultFillerWords are dropped from transcripts before command matching.
var DefaultFillerWords = []string{
	"um", "uh", "uhh", "umm",
	"you know", "basically", "actually", "literally",
	"er", "ah", "hmm", "mm",
	"okay", "please",
}

var (
	spaceRun  = regexp.MustCompile(`\s+`)
	punctOnly = regexp.MustCompile(`^[.,!?;:\s]+$`)
)

// Filter removes filler words from recognizer output.
type Filter struct {
	mu          sync.RWMutex
	fillerWords map[string]struct{}
	pattern     *regexp.Regexp
}

// NewFilter creates a filter. If fillerWords is nil, DefaultFillerWords is used.
func NewFilter(fillerWords []string) *Filter {
	f := &Filter{}
	if fillerWords == nil {
		fillerWords = DefaultFillerWords
	}
	f.SetFillerWords(fillerWords)
	return f
}

// SetFillerWords replaces the filler list.
func (f *Filter) SetFillerWords(words []string) {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}

	var pattern *regexp.Regexp
	if len(set) > 0 {
		alts := make([]string, 0, len(set))
		for w := range set {
			alts = append(alts, `\b`+regexp.QuoteMeta(w)+`\b`)
		}
		pattern = regexp.MustCompile(`(?i)(` + strings.Join(alts, `|`) + `)`)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillerWords = set
	f.pattern = pattern
}

// FillerWords returns a copy of the current list.
func (f *Filter) FillerWords() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	words := make([]string, 0, len(f.fillerWords))
	for w := range f.fillerWords {
		words = append(words, w)
	}
	return words
}

// Clean strips filler words and collapses whitespace. ok is false when
// nothing meaningful remains.
func (f *Filter) Clean(text string) (cleaned string, ok bool) {
	if text == "" {
		return "", false
	}

	f.mu.RLock()
	pattern := f.pattern
	f.mu.RUnlock()

	cleaned = text
	if pattern != nil {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(spaceRun.ReplaceAllString(cleaned, " "))
	if punctOnly.MatchString(cleaned) {
		cleaned = ""
	}
	return cleaned, cleaned != ""
}
