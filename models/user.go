package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"gorm.io/gorm"
)

// User is an acting identity. Authentication lives in the external auth
// service; this backend only needs the user row to scope requests and to
// stamp resolved_by on the audit ledger.
type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Username   string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      *string   `gorm:"size:100;unique" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	IsActive   *bool     `gorm:"not null" json:"is_active"`
	Role       UserRole  `gorm:"type:enum('A', 'O', 'C');default:C" json:"role"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	BusinessId string   `json:"business_id"`
	Username   string   `json:"username" binding:"required"`
	Name       string   `json:"name" binding:"required"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Password   string   `json:"password" binding:"required"`
	Role       UserRole `json:"role"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	if input.Username == "" || input.Name == "" || input.Password == "" {
		return nil, errors.New("username, name and password are required")
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return nil, errors.New("invalid email")
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = UserRoleCashier
	}

	user := User{
		BusinessId: input.BusinessId,
		Username:   input.Username,
		Name:       input.Name,
		Phone:      input.Phone,
		Password:   string(hashed),
		IsActive:   utils.NewTrue(),
		Role:       role,
	}
	if input.Email != "" {
		user.Email = &input.Email
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername checks the Redis cache first, then the DB (bypassing the
// tenant guard: the username is globally unique and the row carries its own
// business_id, which is what the caller is trying to learn).
func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if exists {
		return &user, nil
	}

	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	lookupCtx := utils.SetSkipTenantScopeInContext(ctx, true)
	if err := db.WithContext(lookupCtx).Model(&User{}).Where("username = ?", username).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := config.SetRedisObject("User:"+username, &user, 0); err != nil {
		return nil, err
	}
	return &user, nil
}
