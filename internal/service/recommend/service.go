package recommend

import (
	"context"
	"fmt"

	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/match"
	"github.com/jmehdipour/label-dispatch/internal/model"
)

type UsersReader interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type LabelLister interface {
	ListVisible(ctx context.Context, userID string) ([]model.Label, error)
}

// Service ranks the labels a user can see against their artist profile.
type Service struct {
	users      UsersReader
	labels     LabelLister
	maxResults int
}

func New(users UsersReader, labels LabelLister, maxResults int) *Service {
	if maxResults <= 0 {
		maxResults = match.DefaultMaxResults
	}
	return &Service{users: users, labels: labels, maxResults: maxResults}
}

func (s *Service) Recommend(ctx context.Context, userID string) ([]model.MatchResult, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, apperr.NotFound("user_not_found", "user does not exist")
	}

	labels, err := s.labels.ListVisible(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	out := match.Rank(labels, u.Profile(), s.maxResults)
	if out == nil {
		out = []model.MatchResult{}
	}
	return out, nil
}
