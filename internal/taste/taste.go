// Package taste computes how compatible two users are. The matching
// queue treats the score as opaque: higher is better.
package taste

import (
	"context"
	"errors"
	"strings"

	"tastechat/backend/internal/storage"
)

// Scorer returns a compatibility score for two users.
type Scorer interface {
	Score(ctx context.Context, userA, userB string) (float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, userA, userB string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, userA, userB string) (float64, error) {
	return f(ctx, userA, userB)
}

// Constant scores every pair the same, which reduces pairing to FIFO.
func Constant(score float64) Scorer {
	return ScorerFunc(func(context.Context, string, string) (float64, error) {
		return score, nil
	})
}

// InterestScorer scores users by the Jaccard overlap of their interests,
// in [0, 1]. Users without a stored profile count as having no interests.
type InterestScorer struct {
	users storage.UserRepository
}

func NewInterestScorer(users storage.UserRepository) *InterestScorer {
	return &InterestScorer{users: users}
}

func (s *InterestScorer) Score(ctx context.Context, userA, userB string) (float64, error) {
	a, err := s.interests(ctx, userA)
	if err != nil {
		return 0, err
	}
	b, err := s.interests(ctx, userB)
	if err != nil {
		return 0, err
	}
	return Jaccard(a, b), nil
}

func (s *InterestScorer) interests(ctx context.Context, userID string) ([]string, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user.Interests, nil
}

// Jaccard returns |a ∩ b| / |a ∪ b| over case-insensitive, trimmed tags.
// Two empty sets score 0.
func Jaccard(a, b []string) float64 {
	setA := normalize(a)
	setB := normalize(b)

	union := len(setA)
	shared := 0
	for tag := range setB {
		if _, ok := setA[tag]; ok {
			shared++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func normalize(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			set[tag] = struct{}{}
		}
	}
	return set
}
