// Package voice maps script speakers to concrete voice profiles and adjusts
// delivery parameters for emotion-tagged lines.
package voice

import (
	"encoding/json"
	"fmt"

	"github.com/lingolou/audiobook-service/internal/core"
)

// Built-in default profile. NARRATOR is the only speaker with a library
// default; any other unconfigured speaker fails resolution so that a
// misspelled character name surfaces before the first synthesis call.
const builtinNarrator = "NARRATOR"

var builtinProfiles = map[string]core.VoiceProfile{
	builtinNarrator: {
		VoiceID:         "onwK4e9ZLuTAKqWW03F9",
		Stability:       0.6,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	},
}

// Member is one concrete voice taking part in a line: the individual speaker
// name together with its resolved profile. An individual line resolves to one
// member; a group alias resolves to every member of the group.
type Member struct {
	Speaker string
	Profile core.VoiceProfile
}

// Resolver resolves speaker identifiers against a story's configured voice
// map, an optional per-request override map, and the story's group aliases.
// Resolution is deterministic and side-effect free; a resolver is built per
// chapter run and never cached across requests.
type Resolver struct {
	base      map[string]core.VoiceProfile
	overrides map[string]core.VoiceProfile
	groups    map[string][]string
}

// NewResolver builds a resolver. Any of the maps may be nil.
func NewResolver(
	base map[string]core.VoiceProfile,
	overrides map[string]core.VoiceProfile,
	groups map[string][]string,
) *Resolver {
	return &Resolver{
		base:      base,
		overrides: overrides,
		groups:    groups,
	}
}

// Resolve maps a speaker identifier to its concrete voices. Group aliases
// expand to their full membership; if any member is unresolved the whole
// resolution fails, so group chatter never silently drops a voice.
func (r *Resolver) Resolve(speaker string) ([]Member, error) {
	members, isGroup := r.groups[speaker]
	if !isGroup {
		profile, err := r.resolveIndividual(speaker)
		if err != nil {
			return nil, err
		}

		return []Member{{Speaker: speaker, Profile: profile}}, nil
	}

	if len(members) < 2 {
		return nil, fmt.Errorf(
			"%w: group %q has %d members, need at least 2",
			core.ErrUnresolvedSpeaker,
			speaker,
			len(members),
		)
	}

	resolved := make([]Member, 0, len(members))

	for _, member := range members {
		profile, err := r.resolveIndividual(member)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", speaker, err)
		}

		resolved = append(resolved, Member{Speaker: member, Profile: profile})
	}

	return resolved, nil
}

// ResolveAll resolves every speaker up front and returns the combined
// mapping. The engine calls this before issuing any synthesis request so an
// unresolved speaker costs no external API quota.
func (r *Resolver) ResolveAll(speakers []string) (map[string][]Member, error) {
	resolved := make(map[string][]Member, len(speakers))

	for _, speaker := range speakers {
		members, err := r.Resolve(speaker)
		if err != nil {
			return nil, err
		}

		resolved[speaker] = members
	}

	return resolved, nil
}

func (r *Resolver) resolveIndividual(speaker string) (core.VoiceProfile, error) {
	if profile, ok := r.overrides[speaker]; ok {
		return profile, nil
	}

	if profile, ok := r.base[speaker]; ok {
		return profile, nil
	}

	if profile, ok := builtinProfiles[speaker]; ok {
		return profile, nil
	}

	return core.VoiceProfile{}, fmt.Errorf("%w: %q", core.ErrUnresolvedSpeaker, speaker)
}

// voiceMapEntry mirrors one record of a voices JSON document.
type voiceMapEntry struct {
	VoiceID         string   `json:"voice_id"`
	Stability       *float64 `json:"stability"`
	SimilarityBoost *float64 `json:"similarity_boost"`
	Style           *float64 `json:"style"`
	SpeakerBoost    *bool    `json:"use_speaker_boost"`
}

// Default delivery parameters for voice map entries that omit them.
const (
	defaultStability       = 0.5
	defaultSimilarityBoost = 0.75
	defaultStyle           = 0.0
)

// LoadVoiceMap parses a speaker-to-profile JSON document of the form
//
//	{"NARRATOR": {"voice_id": "...", "stability": 0.5}, ...}
//
// filling omitted delivery parameters with the standard defaults.
func LoadVoiceMap(data []byte) (map[string]core.VoiceProfile, error) {
	var raw map[string]voiceMapEntry

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse voice map: %w", err)
	}

	profiles := make(map[string]core.VoiceProfile, len(raw))

	for speaker, entry := range raw {
		if entry.VoiceID == "" {
			return nil, fmt.Errorf("voice map entry for %q has no voice_id", speaker)
		}

		profile := core.VoiceProfile{
			VoiceID:         entry.VoiceID,
			Stability:       defaultStability,
			SimilarityBoost: defaultSimilarityBoost,
			Style:           defaultStyle,
			SpeakerBoost:    true,
		}

		if entry.Stability != nil {
			profile.Stability = *entry.Stability
		}

		if entry.SimilarityBoost != nil {
			profile.SimilarityBoost = *entry.SimilarityBoost
		}

		if entry.Style != nil {
			profile.Style = *entry.Style
		}

		if entry.SpeakerBoost != nil {
			profile.SpeakerBoost = *entry.SpeakerBoost
		}

		profiles[speaker] = profile
	}

	return profiles, nil
}

// LoadGroups parses a group-alias JSON document of the form
//
//	{"ALL": ["MAX", "MIA"], ...}
//
// Membership is validated at resolution time, not here, so a roster can name
// speakers that only some stories configure.
func LoadGroups(data []byte) (map[string][]string, error) {
	var groups map[string][]string

	err := json.Unmarshal(data, &groups)
	if err != nil {
		return nil, fmt.Errorf("failed to parse groups file: %w", err)
	}

	return groups, nil
}
