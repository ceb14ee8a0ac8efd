package channel

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "aliases", in: []string{"instagram", "linkedin", "facebook"}, want: []string{"instagram_feed", "linkedin_profile", "facebook"}},
		{name: "empty", in: nil, want: []string{"instagram_feed"}},
		{name: "blanks only", in: []string{" ", ""}, want: []string{"instagram_feed"}},
		{name: "canonical passthrough", in: []string{"linkedin_profile", "instagram_story"}, want: []string{"linkedin_profile", "instagram_story"}},
		{name: "case and space", in: []string{" Instagram ", "FACEBOOK"}, want: []string{"instagram_feed", "facebook"}},
		{name: "alias repeat collapses", in: []string{"instagram", "instagram_feed", "facebook"}, want: []string{"instagram_feed", "facebook"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Normalize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeDoesNotShareDefault(t *testing.T) {
	t.Parallel()
	got := Normalize(nil)
	got[0] = "mutated"
	if Default[0] != InstagramFeed {
		t.Fatalf("Default mutated to %q", Default[0])
	}
}

func TestPrimary(t *testing.T) {
	t.Parallel()
	if got := Primary([]string{"linkedin", "instagram"}); got != LinkedInProfile {
		t.Fatalf("Primary = %q", got)
	}
	if got := Primary(nil); got != InstagramFeed {
		t.Fatalf("Primary(nil) = %q", got)
	}
}
