package repository

import (
	"errors"
	"fmt"

	"github.com/bandpassrecords/scgate/model"

	"gorm.io/gorm"
)

// UserRepository defines the interface for platform-account operations.
type UserRepository interface {
	CreateUser(user *model.User) (int64, error)
	GetUserByID(id int64) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
	GetUserByEmail(email string) (*model.User, error)
}

// gormUserRepository implements UserRepository on GORM.
type gormUserRepository struct {
	DB *gorm.DB
}

// NewGormUserRepository creates a new instance of gormUserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{DB: db}
}

// CreateUser inserts a new account and returns its id.
func (r *gormUserRepository) CreateUser(user *model.User) (int64, error) {
	if err := r.DB.Create(user).Error; err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return user.ID, nil
}

// GetUserByID retrieves a user by id. Returns (nil, nil) when not found.
func (r *gormUserRepository) GetUserByID(id int64) (*model.User, error) {
	var user model.User
	err := r.DB.First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %d: %w", id, err)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username. Returns (nil, nil) when not found.
func (r *gormUserRepository) GetUserByUsername(username string) (*model.User, error) {
	var user model.User
	err := r.DB.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user by username %s: %w", username, err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email. Returns (nil, nil) when not found.
func (r *gormUserRepository) GetUserByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.DB.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	return &user, nil
}
