// Package match scores labels against an artist profile. Everything here is
// pure: same inputs, same output.
package match

import (
	"sort"
	"strings"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

const (
	DefaultMaxResults = 20

	genreCap      = 60
	exactGenre    = 20
	partialGenre  = 10
	styleMention  = 5
	emailBonus    = 10
	webformBonus  = 5
	opennessBonus = 10
)

var opennessSignals = []string{"accepting", "open for"}
var closedSignals = []string{"not accepting", "not currently accepting", "closed for"}

// Score returns label affinity in [0,100].
func Score(label model.Label, artistGenres []string, styleDescription string) int {
	total := genreScore(label.Genres, artistGenres, styleDescription) +
		tierBonus(label.Tier) +
		methodBonus(label) +
		openness(label.Notes)
	return clamp(total, 0, 100)
}

// genreScore credits each artist genre once with its best match against the
// label, then each label genre mentioned in the style text.
func genreScore(labelGenres, artistGenres []string, style string) int {
	lg := normalizeAll(labelGenres)
	if len(lg) == 0 {
		return 0
	}

	sum := 0
	for _, a := range normalizeAll(artistGenres) {
		best := 0
		for _, g := range lg {
			if a == g {
				best = exactGenre
				break
			}
			if strings.Contains(a, g) || strings.Contains(g, a) {
				best = partialGenre
			}
		}
		sum += best
	}

	style = strings.ToLower(style)
	if strings.TrimSpace(style) != "" {
		for _, g := range lg {
			if strings.Contains(style, g) {
				sum += styleMention
			}
		}
	}

	return min(sum, genreCap)
}

func tierBonus(tier string) int {
	t := strings.ToLower(strings.TrimSpace(tier))
	switch {
	case strings.Contains(t, "indie"), strings.Contains(t, "boutique"), strings.Contains(t, "underground"):
		return 20
	case strings.Contains(t, "mid"):
		return 15
	case strings.Contains(t, "major"):
		return 10
	default:
		return 15
	}
}

func methodBonus(l model.Label) int {
	switch {
	case l.Accepts(model.MethodEmail):
		return emailBonus
	case l.Accepts(model.MethodWebform):
		return webformBonus
	default:
		return 0
	}
}

func openness(notes string) int {
	n := strings.ToLower(notes)
	for _, s := range closedSignals {
		if strings.Contains(n, s) {
			return 0
		}
	}
	for _, s := range opennessSignals {
		if strings.Contains(n, s) {
			return opennessBonus
		}
	}
	return 0
}

// Rank scores active labels, drops zero scores and returns at most
// maxResults ordered by score desc, then name, then id.
func Rank(labels []model.Label, profile model.ArtistProfile, maxResults int) []model.MatchResult {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	out := make([]model.MatchResult, 0, len(labels))
	for _, l := range labels {
		if !l.IsActive {
			continue
		}
		s := Score(l, profile.Genres, profile.StyleDescription)
		if s <= 0 {
			continue
		}
		out = append(out, model.MatchResult{Label: l, Score: s})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ni, nj := strings.ToLower(out[i].Label.Name), strings.ToLower(out[j].Label.Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].Label.ID < out[j].Label.ID
	})

	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
