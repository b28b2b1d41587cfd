// Package script parses raw chapter scripts into the typed entry model used
// by the rest of the engine.
//
// A script is a JSON array of untyped records produced by the upstream
// script-generation stage. Parsing is a pure transformation: it either yields
// the full typed entry list or fails with a malformed-script error, and it
// never touches storage or the network.
package script

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lingolou/audiobook-service/internal/core"
)

// EntryKind identifies the variant of one script entry.
type EntryKind string

// Known entry kinds. Unknown kinds are preserved as KindUnknown so that
// forward-compatible scripts are tolerated rather than rejected.
const (
	KindLine        EntryKind = "line"
	KindPause       EntryKind = "pause"
	KindScene       EntryKind = "scene"
	KindSFX         EntryKind = "sfx"
	KindBG          EntryKind = "bg"
	KindMusic       EntryKind = "music"
	KindPerformance EntryKind = "performance"
	KindEnd         EntryKind = "end"
	KindUnknown     EntryKind = "unknown"
)

// Entry is one unit of a chapter script. Exactly the fields relevant to the
// entry's kind are populated; entries are immutable once parsed and are
// processed strictly in array order.
type Entry struct {
	Kind EntryKind

	// Line fields.
	Speaker  string
	Language string
	Text     string
	Gloss    string

	// Pause duration, or an explicit override for scene/sfx/performance
	// silences. Negative means "not set".
	Seconds float64

	// Free-text description for scene/sfx/bg/music/performance/end entries.
	Value string
	Title string
}

// rawEntry mirrors the upstream JSON record shape.
type rawEntry struct {
	Type     string   `json:"type"`
	Speaker  string   `json:"speaker"`
	Language string   `json:"language"`
	Text     string   `json:"text"`
	Gloss    string   `json:"gloss"`
	Seconds  *float64 `json:"seconds"`
	Value    string   `json:"value"`
	Title    string   `json:"title"`
}

const noExplicitDuration = -1.0

// Parse validates a raw script document and returns its typed entries. Any
// shape violation fails the whole script with core.ErrMalformedScript; no
// partially parsed result is returned.
func Parse(data []byte) ([]Entry, error) {
	var raw []rawEntry

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedScript, err)
	}

	entries := make([]Entry, 0, len(raw))

	for index, record := range raw {
		entry, entryErr := typedEntry(record)
		if entryErr != nil {
			return nil, fmt.Errorf("entry %d: %w", index, entryErr)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Speakers returns the distinct speaker identifiers referenced by line
// entries, in first-appearance order.
func Speakers(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	speakers := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.Kind != KindLine {
			continue
		}

		if _, ok := seen[entry.Speaker]; ok {
			continue
		}

		seen[entry.Speaker] = struct{}{}
		speakers = append(speakers, entry.Speaker)
	}

	return speakers
}

func typedEntry(record rawEntry) (Entry, error) {
	switch EntryKind(record.Type) {
	case KindLine:
		return lineEntry(record)
	case KindPause:
		return pauseEntry(record)
	case KindScene, KindSFX, KindPerformance:
		return silenceEntry(record)
	case KindBG, KindMusic, KindEnd:
		return metadataEntry(record), nil
	case KindUnknown:
		return unknownEntry(record), nil
	default:
		// Unknown kinds contribute no audio but are kept in order.
		return unknownEntry(record), nil
	}
}

func lineEntry(record rawEntry) (Entry, error) {
	speaker := strings.TrimSpace(record.Speaker)
	if speaker == "" {
		return Entry{}, fmt.Errorf("%w: line entry has empty speaker", core.ErrMalformedScript)
	}

	// The text must survive emotion-tag stripping: a line that is nothing
	// but a tag has no speech to synthesize.
	if strings.TrimSpace(stripLeadingTag(record.Text)) == "" {
		return Entry{}, fmt.Errorf("%w: line entry for %q has empty text", core.ErrMalformedScript, speaker)
	}

	return Entry{
		Kind:     KindLine,
		Speaker:  speaker,
		Language: record.Language,
		Text:     record.Text,
		Gloss:    record.Gloss,
		Seconds:  noExplicitDuration,
	}, nil
}

func pauseEntry(record rawEntry) (Entry, error) {
	if record.Seconds == nil {
		return Entry{}, fmt.Errorf("%w: pause entry has no duration", core.ErrMalformedScript)
	}

	if *record.Seconds < 0 {
		return Entry{}, fmt.Errorf(
			"%w: pause entry has negative duration %.3f",
			core.ErrMalformedScript,
			*record.Seconds,
		)
	}

	return Entry{Kind: KindPause, Seconds: *record.Seconds}, nil
}

// silenceEntry covers scene, sfx, and performance markers: narrative
// descriptions that contribute a fixed silence, optionally overridden by an
// explicit duration.
func silenceEntry(record rawEntry) (Entry, error) {
	seconds := noExplicitDuration

	if record.Seconds != nil {
		if *record.Seconds < 0 {
			return Entry{}, fmt.Errorf(
				"%w: %s entry has negative duration %.3f",
				core.ErrMalformedScript,
				record.Type,
				*record.Seconds,
			)
		}

		seconds = *record.Seconds
	}

	return Entry{
		Kind:    EntryKind(record.Type),
		Seconds: seconds,
		Value:   record.Value,
		Title:   record.Title,
	}, nil
}

func metadataEntry(record rawEntry) Entry {
	return Entry{
		Kind:  EntryKind(record.Type),
		Value: record.Value,
		Title: record.Title,
	}
}

func unknownEntry(record rawEntry) Entry {
	return Entry{Kind: KindUnknown, Value: record.Type}
}

// HasExplicitDuration reports whether the entry carries its own silence
// duration rather than relying on the per-kind default.
func (e Entry) HasExplicitDuration() bool {
	return e.Seconds >= 0
}

// stripLeadingTag removes a single leading bracketed tag, if present. The
// full tag handling, including the emotion lookup, lives in the voice
// package; parsing only needs to know whether any speech remains.
func stripLeadingTag(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "[") {
		return trimmed
	}

	closing := strings.Index(trimmed, "]")
	if closing < 0 {
		return trimmed
	}

	return trimmed[closing+1:]
}
