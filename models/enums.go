package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPreparing, OrderStatusReady, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// ResolutionAction is the automatic resolver's verdict for one order.
type ResolutionAction string

const (
	ResolutionActionLocalWins  ResolutionAction = "local_wins"
	ResolutionActionServerWins ResolutionAction = "server_wins"
)

// ResolutionType is the audited ownership of the surviving snapshot.
type ResolutionType string

const (
	ResolutionTypeLocal  ResolutionType = "local"
	ResolutionTypeServer ResolutionType = "server"
	ResolutionTypeMerge  ResolutionType = "merge"
)

func (t ResolutionType) Value() (driver.Value, error) {
	switch t {
	case ResolutionTypeLocal, ResolutionTypeServer, ResolutionTypeMerge:
		return string(t), nil
	}
	return nil, fmt.Errorf("invalid resolution type %q", string(t))
}

func (t *ResolutionType) Scan(v interface{}) error {
	switch s := v.(type) {
	case string:
		*t = ResolutionType(s)
	case []byte:
		*t = ResolutionType(s)
	default:
		return errors.New("resolution type must be string")
	}
	return nil
}

// ResolutionTypeForAction maps the resolver verdict to the audited type.
func ResolutionTypeForAction(action ResolutionAction) ResolutionType {
	if action == ResolutionActionLocalWins {
		return ResolutionTypeLocal
	}
	return ResolutionTypeServer
}

type UserRole string

const (
	UserRoleAdmin   UserRole = "A"
	UserRoleOwner   UserRole = "O"
	UserRoleCashier UserRole = "C"
)
