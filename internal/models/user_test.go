package models_test

import (
	"reflect"
	"testing"

	"tastechat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

// TestUserBeforeCreate_GeneratesUUID verifies that the BeforeCreate hook generates a valid UUID.
func TestUserBeforeCreate_GeneratesUUID(t *testing.T) {
	// Arrange
	user := &models.User{
		TelegramID: "123456789",
		Interests:  pq.StringArray{"music", "travel", "coding"},
	}
	assert.Empty(t, user.ID, "User ID should be empty before BeforeCreate")

	// Act - GORM would call this automatically
	err := user.BeforeCreate(nil)

	// Assert
	assert.NoError(t, err)
	parsedUUID, parseErr := uuid.Parse(user.ID)
	assert.NoError(t, parseErr, "User ID must be a valid UUID string")
	assert.NotEqual(t, uuid.Nil, parsedUUID)
}

// TestUserBeforeCreate_PreservesExistingID verifies that the hook doesn't overwrite an existing ID.
func TestUserBeforeCreate_PreservesExistingID(t *testing.T) {
	existingID := uuid.New().String()
	user := &models.User{ID: existingID, TelegramID: "987654321"}

	err := user.BeforeCreate(nil)

	assert.NoError(t, err)
	assert.Equal(t, existingID, user.ID, "BeforeCreate should preserve existing ID")
}

// TestUserBeforeCreate_MultipleUsers verifies unique UUIDs are generated for multiple users.
func TestUserBeforeCreate_MultipleUsers(t *testing.T) {
	users := []*models.User{
		{TelegramID: "111"},
		{TelegramID: "222"},
		{TelegramID: "333"},
	}

	generatedIDs := make(map[string]bool)
	for _, user := range users {
		assert.NoError(t, user.BeforeCreate(nil))
		assert.NotContains(t, generatedIDs, user.ID, "Each user should have a unique ID")
		generatedIDs[user.ID] = true
	}

	assert.Equal(t, len(users), len(generatedIDs))
}

// TestUserStructTags verifies that struct tags are correctly defined for GORM and JSON.
func TestUserStructTags(t *testing.T) {
	userType := reflect.TypeOf(models.User{})

	idField, found := userType.FieldByName("ID")
	assert.True(t, found)
	assert.Contains(t, idField.Tag.Get("gorm"), "primaryKey")
	assert.Contains(t, idField.Tag.Get("json"), "id")

	tgField, found := userType.FieldByName("TelegramID")
	assert.True(t, found)
	assert.Contains(t, tgField.Tag.Get("gorm"), "uniqueIndex")

	interestsField, found := userType.FieldByName("Interests")
	assert.True(t, found)
	assert.Contains(t, interestsField.Tag.Get("gorm"), "type:text[]", "Interests should use PostgreSQL array type")
}

// TestChatHistoryKeepsEnvelopeColumns guards the persisted layout that retention and disputes rely on.
func TestChatHistoryKeepsEnvelopeColumns(t *testing.T) {
	historyType := reflect.TypeOf(models.ChatHistory{})

	for _, name := range []string{"RoomID", "SenderID", "Ciphertext", "IV", "CreatedAt", "HoldForDispute"} {
		_, found := historyType.FieldByName(name)
		assert.True(t, found, "ChatHistory must keep %s", name)
	}
	_, found := historyType.FieldByName("Content")
	assert.False(t, found, "plaintext must never be persisted")
}
