package models

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is the authoritative server snapshot of one POS order.
// (business_id, client_generated_id) is unique: re-submitting the same
// client_generated_id is always an update against this row, never a second insert.
type Order struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BusinessId        string          `gorm:"uniqueIndex:uniq_order_client_id,priority:1;not null" json:"business_id"`
	ClientGeneratedId string          `gorm:"uniqueIndex:uniq_order_client_id,priority:2;size:128;not null" json:"client_generated_id" binding:"required"`
	ClientName        string          `gorm:"size:255;not null" json:"client_name" binding:"required"`
	ClientPhone       string          `gorm:"size:20" json:"client_phone"`
	ClientAddress     string          `gorm:"type:text" json:"client_address"`
	Total             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total"`
	DeliveryDate      *time.Time      `json:"delivery_date"`
	DeliveryTime      string          `gorm:"size:20" json:"delivery_time"`
	Status            OrderStatus     `gorm:"type:enum('pending','preparing','ready','delivered','cancelled');default:pending" json:"status"`
	Notes             string          `gorm:"type:text" json:"notes"`
	SyncStatus        SyncStatus      `gorm:"type:enum('pending','synced','conflict');default:synced" json:"sync_status"`
	LastModifiedAt    *time.Time      `gorm:"index" json:"last_modified_at"`
	CreatedByUserId   int             `json:"created_by_user_id"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OfflineOrder is the boundary representation of an order queued on a
// disconnected client. Client timestamps arrive as strings and are parsed
// leniently here, so the detector/resolver never see malformed input.
type OfflineOrder struct {
	ClientGeneratedId string          `json:"client_generated_id" binding:"required"`
	ClientName        string          `json:"client_name" binding:"required"`
	ClientPhone       string          `json:"client_phone"`
	ClientAddress     string          `json:"client_address"`
	Total             decimal.Decimal `json:"total"`
	DeliveryDate      *time.Time      `json:"delivery_date"`
	DeliveryTime      string          `json:"delivery_time"`
	Status            OrderStatus     `json:"status"`
	Notes             string          `json:"notes"`
	SyncStatus        SyncStatus      `json:"sync_status"`
	LastModifiedAt    string          `json:"last_modified_at"`
	CreatedAt         string          `json:"created_at"`
}

func (input *OfflineOrder) validate() error {
	if strings.TrimSpace(input.ClientGeneratedId) == "" {
		return errors.New("client_generated_id is required")
	}
	if strings.TrimSpace(input.ClientName) == "" {
		return errors.New("client_name is required")
	}
	if input.Status != "" && !input.Status.IsValid() {
		return errors.New("invalid order status")
	}
	if input.Total.IsNegative() {
		return errors.New("total cannot be negative")
	}
	if input.ClientPhone != "" {
		if err := utils.ValidatePhoneNumber(input.ClientPhone, phoneRegion()); err != nil {
			return errors.New("invalid client_phone")
		}
	}
	return nil
}

func phoneRegion() string {
	region := strings.TrimSpace(os.Getenv("ORDERS_PHONE_REGION"))
	if region == "" {
		region = "MM"
	}
	return region
}

// ToOrder converts the offline payload into a server snapshot for the tenant.
// A timestamp the client mangled beyond parsing becomes nil; the resolver's
// created_at fallback handles it.
func (input *OfflineOrder) ToOrder(businessId string, userId int) *Order {
	status := input.Status
	if status == "" {
		status = OrderStatusPending
	}
	order := &Order{
		BusinessId:        businessId,
		ClientGeneratedId: input.ClientGeneratedId,
		ClientName:        input.ClientName,
		ClientPhone:       input.ClientPhone,
		ClientAddress:     input.ClientAddress,
		Total:             input.Total,
		DeliveryDate:      input.DeliveryDate,
		DeliveryTime:      input.DeliveryTime,
		Status:            status,
		Notes:             input.Notes,
		SyncStatus:        SyncStatusSynced,
		LastModifiedAt:    utils.ParseClientTimestamp(input.LastModifiedAt),
		CreatedByUserId:   userId,
	}
	if createdAt := utils.ParseClientTimestamp(input.CreatedAt); createdAt != nil {
		order.CreatedAt = *createdAt
	}
	return order
}

func GetOrderById(ctx context.Context, businessId string, id int) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).Where("business_id = ? AND id = ?", businessId, id).Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetOrderByClientGeneratedId returns (nil, nil) when the tenant has no
// counterpart row yet; the orchestrator treats that as a create, not an error.
func GetOrderByClientGeneratedId(ctx context.Context, businessId string, clientGeneratedId string) (*Order, error) {
	db := config.GetDB()
	var order Order
	err := db.WithContext(ctx).
		Where("business_id = ? AND client_generated_id = ?", businessId, clientGeneratedId).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// CreateOrderFromOffline inserts a new server row for an offline-created order.
// The unique index on (business_id, client_generated_id) is the backstop
// against two racing sync calls inserting the same order twice.
func CreateOrderFromOffline(ctx context.Context, input *OfflineOrder, userId int) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	order := input.ToOrder(businessId, userId)
	if order.LastModifiedAt == nil {
		now := time.Now().UTC()
		order.LastModifiedAt = &now
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}
