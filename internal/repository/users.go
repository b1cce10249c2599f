package repository

import (
	"time"

	"github.com/google/uuid"

	"skillhub/backend/pkg/models"
)

func prepareUser(user *models.User) {
	now := time.Now().UTC()
	if user.UID == "" {
		user.UID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
}
