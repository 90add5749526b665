package checkin

import "strings"

// Tag is a need category drawn from a fixed vocabulary so dashboards can aggregate on it.
type Tag string

const (
	TagMedical        Tag = "Medical"
	TagFoodWater      Tag = "Food/Water"
	TagPower          Tag = "Power"
	TagEvacuation     Tag = "Evacuation"
	TagMentalHealth   Tag = "Mental Health"
	TagPropertyDamage Tag = "Property Damage"
	TagSafe           Tag = "Safe"
)

// Vocabulary lists every accepted tag in display order.
var Vocabulary = []Tag{
	TagMedical,
	TagFoodWater,
	TagPower,
	TagEvacuation,
	TagMentalHealth,
	TagPropertyDamage,
	TagSafe,
}

var tagIndex = func() map[string]Tag {
	m := make(map[string]Tag, len(Vocabulary))
	for _, t := range Vocabulary {
		m[strings.ToLower(string(t))] = t
	}
	return m
}()

// ParseTag maps s onto the vocabulary, ignoring case and surrounding space.
func ParseTag(s string) (Tag, bool) {
	t, ok := tagIndex[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// FilterTags canonicalizes raw tags, returning accepted tags (deduplicated, in
// input order) and the values that fell outside the vocabulary.
func FilterTags(raw []string) (tags []Tag, rejected []string) {
	seen := make(map[Tag]bool, len(raw))
	for _, r := range raw {
		t, ok := ParseTag(r)
		if !ok {
			rejected = append(rejected, r)
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags, rejected
}
