package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
)

// EnsureUserByEmail resolves the user row for an authenticated identity,
// creating it lazily on first use. A racing create by a concurrent request
// resolves to the surviving row.
func EnsureUserByEmail(ctx context.Context, database *gorm.DB, email string) (model.User, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if normalizedEmail == "" {
		return model.User{}, model.ErrInvalidUserEmail
	}

	var user model.User
	lookupErr := database.WithContext(ctx).Where("email = ?", normalizedEmail).First(&user).Error
	if lookupErr == nil {
		return user, nil
	}
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return model.User{}, lookupErr
	}

	freshUser, buildErr := model.NewUser(model.UserInput{Email: normalizedEmail})
	if buildErr != nil {
		return model.User{}, buildErr
	}
	createErr := database.WithContext(ctx).Create(&freshUser).Error
	if createErr == nil {
		return freshUser, nil
	}

	retryErr := database.WithContext(ctx).Where("email = ?", normalizedEmail).First(&user).Error
	if retryErr != nil {
		return model.User{}, fmt.Errorf("storage: ensure user: %w", createErr)
	}
	return user, nil
}
