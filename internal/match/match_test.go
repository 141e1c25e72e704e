package match

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

func TestScoreWorkedExample(t *testing.T) {
	label := model.Label{
		Name:             "Warehouse Cuts",
		Genres:           model.StringList{"House", "Tech House"},
		SubmissionMethod: model.MethodEmail,
		SubmissionEmail:  "demos@warehouse.example",
		Tier:             "Indie",
		Notes:            "Currently accepting demos from new artists",
		IsActive:         true,
	}
	// 20 exact + 20 indie + 10 email + 10 accepting
	assert.Equal(t, 60, Score(label, []string{"House"}, ""))
}

func TestScorePartialGenreMatch(t *testing.T) {
	label := model.Label{Genres: model.StringList{"House"}, Tier: "Major"}
	// partial 10 + major 10, no method, no openness
	assert.Equal(t, 20, Score(label, []string{"Deep House"}, ""))
	assert.Equal(t, 10, genreScore(label.Genres, []string{"Deep House"}, ""))
}

func TestScoreExactIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, 20, genreScore([]string{"techno"}, []string{"TECHNO"}, ""))
}

func TestScoreStyleMention(t *testing.T) {
	got := genreScore([]string{"Ambient", "Drone"}, nil, "Slow ambient textures with drone layers")
	assert.Equal(t, 10, got)
}

func TestGenreScoreCapped(t *testing.T) {
	genres := []string{"house", "techno", "trance", "dub", "garage"}
	assert.Equal(t, 60, genreScore(genres, genres, "house techno trance dub garage"))
}

func TestEmptyGenresNeverMatchEverything(t *testing.T) {
	assert.Equal(t, 0, genreScore([]string{"", "  "}, []string{"House"}, "house"))
	assert.Equal(t, 0, genreScore([]string{"House"}, []string{""}, ""))
}

func TestTierBonus(t *testing.T) {
	cases := map[string]int{
		"Indie": 20, "boutique": 20, "Underground": 20,
		"Mid": 15, "mid-tier": 15, "MAJOR": 10, "": 15, "unknown": 15,
	}
	for in, want := range cases {
		assert.Equal(t, want, tierBonus(in), in)
	}
}

func TestMethodBonus(t *testing.T) {
	assert.Equal(t, 10, methodBonus(model.Label{SubmissionMethod: model.MethodEmail, SubmissionEmail: "a@b.co", SubmissionURL: "https://x"}))
	assert.Equal(t, 5, methodBonus(model.Label{SubmissionMethod: model.MethodWebform, SubmissionURL: "https://x"}))
	assert.Equal(t, 0, methodBonus(model.Label{}))
	// a stored address does not count unless it is the declared method
	assert.Equal(t, 0, methodBonus(model.Label{SubmissionMethod: model.MethodNone, SubmissionEmail: "a@b.co"}))
	assert.Equal(t, 5, methodBonus(model.Label{SubmissionMethod: model.MethodWebform, SubmissionEmail: "a@b.co", SubmissionURL: "https://x"}))
	assert.Equal(t, 0, methodBonus(model.Label{SubmissionMethod: model.MethodEmail, SubmissionURL: "https://x"}))
}

func TestOpenness(t *testing.T) {
	assert.Equal(t, 10, openness("Open for submissions all year"))
	assert.Equal(t, 10, openness("accepting demos"))
	assert.Equal(t, 0, openness("Not accepting demos right now"))
	assert.Equal(t, 0, openness(""))
}

func TestScoreDeterministicAndBounded(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	pool := []string{"House", "Deep House", "Techno", "Ambient", "Drum & Bass", "", "hip hop", "Tech House"}
	tiers := []string{"Major", "Mid", "Indie", "Underground", "", "???"}
	notes := []string{"", "accepting", "open for demos", "closed", "not accepting"}

	pick := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = pool[r.Intn(len(pool))]
		}
		return out
	}

	for i := 0; i < 500; i++ {
		label := model.Label{
			Genres:          pick(r.Intn(6)),
			Tier:            tiers[r.Intn(len(tiers))],
			Notes:           notes[r.Intn(len(notes))],
			SubmissionEmail: []string{"", "x@y.z"}[r.Intn(2)],
			SubmissionURL:   []string{"", "https://f"}[r.Intn(2)],
		}
		genres := pick(r.Intn(6))
		style := fmt.Sprintf("%s and %s vibes", pool[r.Intn(len(pool))], pool[r.Intn(len(pool))])

		s := Score(label, genres, style)
		assert.GreaterOrEqual(t, s, 0)
		assert.LessOrEqual(t, s, 100)
		assert.Equal(t, s, Score(label, genres, style))
	}
}

func TestRankOrdersAndCaps(t *testing.T) {
	labels := []model.Label{
		{ID: "3", Name: "beta", Genres: model.StringList{"House"}, IsActive: true},
		{ID: "1", Name: "Alpha", Genres: model.StringList{"House"}, IsActive: true},
		{ID: "2", Name: "Gamma", Genres: model.StringList{"House"}, Tier: "Indie", SubmissionMethod: model.MethodEmail, SubmissionEmail: "g@g.co", IsActive: true},
		{ID: "4", Name: "Dormant", Genres: model.StringList{"House"}, Tier: "Indie", IsActive: false},
		{ID: "0", Name: "alpha", Genres: model.StringList{"House"}, IsActive: true},
	}
	profile := model.ArtistProfile{Genres: []string{"House"}}

	got := Rank(labels, profile, 0)
	require.Len(t, got, 4)
	assert.Equal(t, "2", got[0].Label.ID)
	// equal scores fall back to name (case-insensitive), then id
	assert.Equal(t, []string{"0", "1", "3"}, []string{got[1].Label.ID, got[2].Label.ID, got[3].Label.ID})

	assert.Len(t, Rank(labels, profile, 2), 2)
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank(nil, model.ArtistProfile{Genres: []string{"House"}}, 5))
}
