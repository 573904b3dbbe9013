package users

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lastbite/lastbite-backend/pkg/db/models"
	pkgerrors "github.com/lastbite/lastbite-backend/pkg/errors"
)

var (
	ErrUserNotFound    = pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	ErrNoPayoutAccount = pkgerrors.New(pkgerrors.CodeStateConflict, "seller has no connected payout account")
)

// Repository exposes user-related persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a user.
func (r *Repository) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return r.db.WithContext(ctx).Create(user).Error
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindPayoutAccount returns the connected account id transfers are sent to.
func (r *Repository) FindPayoutAccount(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := r.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.StripeAccountID == nil || strings.TrimSpace(*user.StripeAccountID) == "" {
		return "", ErrNoPayoutAccount
	}
	return *user.StripeAccountID, nil
}
