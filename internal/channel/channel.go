// Package channel maps requested publishing channels to canonical keys.
package channel

import "strings"

const (
	InstagramFeed   = "instagram_feed"
	LinkedInProfile = "linkedin_profile"
)

// Default is used when a rule names no channels.
var Default = []string{InstagramFeed}

var aliases = map[string]string{
	"instagram": InstagramFeed,
	"linkedin":  LinkedInProfile,
}

// Normalize maps raw channel identifiers to canonical keys, keeping order.
// Blank entries are dropped and repeats collapse to the first occurrence.
// An empty result becomes Default.
func Normalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		c := strings.ToLower(strings.TrimSpace(r))
		if c == "" {
			continue
		}
		if mapped, ok := aliases[c]; ok {
			c = mapped
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return append([]string(nil), Default...)
	}
	return out
}

// Primary returns the channel recorded on a draft: the first normalized one.
func Primary(raw []string) string {
	return Normalize(raw)[0]
}
