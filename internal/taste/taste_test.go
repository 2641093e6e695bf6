package taste_test

import (
	"context"
	"errors"
	"testing"

	"tastechat/backend/internal/models"
	"tastechat/backend/internal/storage"
	"tastechat/backend/internal/taste"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 0},
		{"identical", []string{"jazz", "rock"}, []string{"rock", "jazz"}, 1},
		{"disjoint", []string{"jazz"}, []string{"metal"}, 0},
		{"half", []string{"jazz", "rock"}, []string{"jazz", "pop"}, 1.0 / 3.0},
		{"case and space", []string{" Jazz"}, []string{"jazz "}, 1},
		{"duplicates collapse", []string{"jazz", "jazz"}, []string{"jazz"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, taste.Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestInterestScorer(t *testing.T) {
	ctx := context.Background()
	users := storage.NewMemory()
	users.PutUser(models.User{ID: "a", Interests: []string{"jazz", "film"}})
	users.PutUser(models.User{ID: "b", Interests: []string{"jazz", "film"}})

	scorer := taste.NewInterestScorer(users)

	score, err := scorer.Score(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	// Anonymous users have no profile.
	score, err = scorer.Score(ctx, "a", "anon")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) SaveUserIfNotExists(ctx context.Context, telegramID string) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockUsers) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *mockUsers) UpdateUser(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func TestInterestScorer_PropagatesStorageErrors(t *testing.T) {
	users := new(mockUsers)
	users.On("GetUserByID", mock.Anything, "a").Return(nil, errors.New("db down"))

	_, err := taste.NewInterestScorer(users).Score(context.Background(), "a", "b")
	assert.EqualError(t, err, "db down")
	users.AssertExpectations(t)
}

func TestConstant(t *testing.T) {
	score, err := taste.Constant(0.5).Score(context.Background(), "x", "y")
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)
}
