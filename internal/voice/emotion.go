package voice

import (
	"regexp"
	"strings"

	"github.com/lingolou/audiobook-service/internal/core"
)

// Delivery is the pair of voice parameters an emotion label controls:
// stability (lower is more volatile) and style (higher is more expressive).
type Delivery struct {
	Stability float64
	Style     float64
}

// leadingTagPattern matches a single bracketed tag at the start of a line,
// e.g. "[excited] Let's go!".
var leadingTagPattern = regexp.MustCompile(`^\s*\[([^\[\]]+)\]\s*`)

// DefaultEmotionTable maps the emotion labels the script generator emits to
// delivery parameters. Labels are matched case-insensitively.
func DefaultEmotionTable() map[string]Delivery {
	return map[string]Delivery{
		"excited":  {Stability: 0.3, Style: 0.6},
		"happy":    {Stability: 0.4, Style: 0.5},
		"sad":      {Stability: 0.7, Style: 0.2},
		"angry":    {Stability: 0.25, Style: 0.7},
		"scared":   {Stability: 0.35, Style: 0.55},
		"worried":  {Stability: 0.55, Style: 0.3},
		"curious":  {Stability: 0.5, Style: 0.4},
		"whisper":  {Stability: 0.8, Style: 0.1},
		"calm":     {Stability: 0.7, Style: 0.1},
		"shouting": {Stability: 0.25, Style: 0.75},
	}
}

// EmotionMapper resolves a line's optional leading emotion tag into adjusted
// delivery parameters. The lookup table is injected so tests and stories can
// substitute alternate mappings without process-wide state.
type EmotionMapper struct {
	table map[string]Delivery
}

// NewEmotionMapper builds a mapper over the given table. The table is copied
// with lowercased keys; a nil table yields a mapper that only strips tags.
func NewEmotionMapper(table map[string]Delivery) *EmotionMapper {
	normalized := make(map[string]Delivery, len(table))
	for label, delivery := range table {
		normalized[strings.ToLower(label)] = delivery
	}

	return &EmotionMapper{table: normalized}
}

// Apply detects an optional leading [tag] in rawText, strips it, and returns
// the profile adjusted for the tag together with the text to synthesize.
// Absent or unknown labels leave the profile unmodified; this is the normal
// case, not a failure. The input profile is never mutated.
func (m *EmotionMapper) Apply(profile core.VoiceProfile, rawText string) (core.VoiceProfile, string) {
	label, remainder := splitLeadingTag(rawText)
	text := normalizeForDelivery(remainder)

	if label == "" {
		return profile, text
	}

	delivery, ok := m.table[strings.ToLower(label)]
	if !ok {
		return profile, text
	}

	adjusted := profile
	adjusted.Stability = delivery.Stability
	adjusted.Style = delivery.Style

	return adjusted, text
}

// splitLeadingTag returns the leading bracketed label, if any, and the rest
// of the text. Brackets later in the line are left alone.
func splitLeadingTag(text string) (label, remainder string) {
	match := leadingTagPattern.FindStringSubmatch(text)
	if match == nil {
		return "", text
	}

	return strings.TrimSpace(match[1]), text[len(match[0]):]
}

// normalizeForDelivery shapes text for the voice service: ellipses are
// padded so the model reads them as hesitation, and runs of whitespace
// collapse to single spaces.
func normalizeForDelivery(text string) string {
	normalized := strings.ReplaceAll(text, "...", " ... ")
	normalized = strings.Join(strings.Fields(normalized), " ")

	return normalized
}
