package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/model"
)

type users map[string]model.User

func (u users) GetByID(_ context.Context, id string) (*model.User, error) {
	x, ok := u[id]
	if !ok {
		return nil, nil
	}
	return &x, nil
}

type labels []model.Label

func (l labels) ListVisible(_ context.Context, userID string) ([]model.Label, error) {
	var out []model.Label
	for _, x := range l {
		if x.IsActive && (x.AddedBy == model.AddedByAdmin || x.OwnerUserID == userID) {
			out = append(out, x)
		}
	}
	return out, nil
}

func TestRecommendRanksVisibleLabels(t *testing.T) {
	us := users{"u1": {ID: "u1", Genres: model.StringList{"House"}}}
	ls := labels{
		{ID: "a", Name: "Acid Basement", Genres: model.StringList{"House", "Tech House"}, SubmissionMethod: model.MethodEmail,
			SubmissionEmail: "demos@acid.example", Tier: "Indie", Notes: "currently accepting demos", AddedBy: model.AddedByAdmin, IsActive: true},
		{ID: "b", Name: "Big Major", Genres: model.StringList{"Pop"}, Tier: "Major", AddedBy: model.AddedByAdmin, IsActive: true},
		{ID: "c", Name: "Mine", Genres: model.StringList{"House"}, Tier: "Mid", AddedBy: model.AddedByUser, OwnerUserID: "u1", IsActive: true},
		{ID: "d", Name: "Theirs", Genres: model.StringList{"House"}, AddedBy: model.AddedByUser, OwnerUserID: "u2", IsActive: true},
		{ID: "e", Name: "Retired", Genres: model.StringList{"House"}, AddedBy: model.AddedByAdmin},
	}

	svc := New(us, ls, 0)
	out, err := svc.Recommend(context.Background(), "u1")
	require.NoError(t, err)

	ids := make([]string, 0, len(out))
	for _, r := range out {
		ids = append(ids, r.Label.ID)
	}
	assert.Equal(t, []string{"a", "c", "b"}, ids)
	assert.Equal(t, 60, out[0].Score)
}

func TestRecommendCapsResults(t *testing.T) {
	var ls labels
	for _, id := range []string{"x1", "x2", "x3"} {
		ls = append(ls, model.Label{ID: id, Name: id, AddedBy: model.AddedByAdmin, IsActive: true})
	}
	out, err := New(users{"u1": {ID: "u1"}}, ls, 2).Recommend(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRecommendUnknownUser(t *testing.T) {
	_, err := New(users{}, labels{}, 0).Recommend(context.Background(), "nobody")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
