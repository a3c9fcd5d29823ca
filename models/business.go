package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/google/uuid"
)

// Business is the tenant. Every order and ledger row is scoped by its id;
// the tenant guard plugin injects the scope automatically.
type Business struct {
	ID          uuid.UUID `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName string    `gorm:"size:100" json:"contact_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Address     string    `gorm:"type:text" json:"address"`
	Country     string    `gorm:"size:100" json:"country"`
	City        string    `gorm:"size:100" json:"city"`
	Timezone    string    `gorm:"size:50" json:"timezone"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name        string `json:"name" binding:"required"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Country     string `json:"country"`
	City        string `json:"city"`
	Timezone    string `json:"timezone"`
}

func (input *NewBusiness) validate(ctx context.Context) error {
	if input.Name == "" {
		return errors.New("business name is required")
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email")
	}
	if err := utils.ValidateUnique[Business](ctx, "", "name", input.Name, 0); err != nil {
		return err
	}
	return nil
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}
	db := config.GetDB()

	timezone := "Asia/Yangon"
	if input.Timezone != "" {
		timezone = input.Timezone
	}

	business := Business{
		ID:          uuid.New(),
		Name:        input.Name,
		ContactName: input.ContactName,
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
		Country:     input.Country,
		City:        input.City,
		Timezone:    timezone,
		IsActive:    utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}
