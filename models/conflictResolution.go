package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConflictResolution is one audit row in the conflict-resolution ledger.
// Rows are write-once: created when a resolution is applied, then immutable
// for the tenant's compliance retention window. Both snapshots are stored as
// opaque JSON blobs so the ledger survives schema drift on orders.
type ConflictResolution struct {
	ID               int            `gorm:"primary_key" json:"id"`
	BusinessId       string         `gorm:"index;not null" json:"business_id"`
	OrderId          int            `gorm:"index;not null" json:"order_id"`
	LocalSnapshot    []byte         `gorm:"type:json" json:"local_snapshot"`
	ServerSnapshot   []byte         `gorm:"type:json" json:"server_snapshot"`
	ResolutionType   ResolutionType `gorm:"type:enum('local','server','merge');not null;index" json:"resolution_type"`
	ResolvedSnapshot []byte         `gorm:"type:json" json:"resolved_snapshot"`
	Message          string         `gorm:"size:500" json:"message"`
	ResolvedBy       int            `gorm:"index" json:"resolved_by"`
	CorrelationId    string         `gorm:"size:64" json:"correlation_id"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_conflict_resolutions_created,priority:1" json:"created_at"`
	ResolvedAt       time.Time      `gorm:"not null" json:"resolved_at"`
}

// The ledger is append-only as a type, not a convention.
func (ConflictResolution) BeforeUpdate(*gorm.DB) error {
	return errors.New("conflict resolutions are append-only")
}

func (ConflictResolution) BeforeDelete(*gorm.DB) error {
	return errors.New("conflict resolutions are append-only")
}

// ApplyResolution commits a resolver verdict: it rewrites the order row from
// the winning snapshot (bumping last_modified_at to resolution time) and
// inserts the audit row, atomically. The row lock on orders serializes
// concurrent writers on the same order; the losing writer surfaces a storage
// error to its caller.
func ApplyResolution(ctx context.Context, orderId int, res *Resolution, actingUserId int) (*ConflictResolution, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if res == nil || res.ResolvedData == nil {
		return nil, errors.New("resolution has no resolved data")
	}

	resolvedAt := res.Timestamp
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}
	detectedAt := res.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = resolvedAt
	}

	localSnapshot, err := json.Marshal(res.Local)
	if err != nil {
		return nil, err
	}
	serverSnapshot, err := json.Marshal(res.Server)
	if err != nil {
		return nil, err
	}
	resolvedSnapshot, err := json.Marshal(res.ResolvedData)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var current Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, orderId).
		Take(&current).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	winning := res.ResolvedData
	if err := tx.Model(&Order{}).
		Where("business_id = ? AND id = ?", businessId, orderId).
		Updates(map[string]interface{}{
			"client_name":      winning.ClientName,
			"client_phone":     winning.ClientPhone,
			"client_address":   winning.ClientAddress,
			"total":            winning.Total,
			"delivery_date":    winning.DeliveryDate,
			"delivery_time":    winning.DeliveryTime,
			"status":           statusOrDefault(winning.Status),
			"notes":            winning.Notes,
			"sync_status":      SyncStatusSynced,
			"last_modified_at": resolvedAt,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	record := ConflictResolution{
		BusinessId:       businessId,
		OrderId:          orderId,
		LocalSnapshot:    localSnapshot,
		ServerSnapshot:   serverSnapshot,
		ResolutionType:   ResolutionTypeForAction(res.Action),
		ResolvedSnapshot: resolvedSnapshot,
		Message:          res.Message,
		ResolvedBy:       actingUserId,
		CorrelationId:    correlationIdFromContextOrNew(ctx),
		CreatedAt:        detectedAt,
		ResolvedAt:       resolvedAt,
	}
	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func statusOrDefault(s OrderStatus) OrderStatus {
	if s == "" {
		return OrderStatusPending
	}
	return s
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

const conflictHistoryPageSize = 50

// GetConflictHistory pages the tenant's ledger newest first, capped at 50
// rows per page. The cursor is the teacher cursor convention: base64 of
// "created_at|id".
func GetConflictHistory(ctx context.Context, businessId string, cursor *string) ([]*ConflictResolution, *PageInfo, error) {
	db := config.GetDB()

	dbCtx := db.WithContext(ctx).Model(&ConflictResolution{}).
		Where("business_id = ?", businessId).
		Order("created_at DESC, id DESC").
		Limit(conflictHistoryPageSize + 1)

	cursorCreatedAt, cursorId := DecodeCompositeCursor(cursor)
	if cursorCreatedAt != "" {
		dbCtx = dbCtx.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursorCreatedAt, cursorCreatedAt, cursorId)
	}

	var rows []*ConflictResolution
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	hasNextPage := len(rows) > conflictHistoryPageSize
	if hasNextPage {
		rows = rows[:conflictHistoryPageSize]
	}

	pageInfo := &PageInfo{HasNextPage: &hasNextPage}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		pageInfo.EndCursor = EncodeCompositeCursor(last.CreatedAt.UTC().Format("2006-01-02 15:04:05.000000"), last.ID)
		first := rows[0]
		pageInfo.StartCursor = EncodeCompositeCursor(first.CreatedAt.UTC().Format("2006-01-02 15:04:05.000000"), first.ID)
	}
	return rows, pageInfo, nil
}

// ConflictStats is the per-tenant operational view over the ledger.
// AvgResolutionTimeMs is nil when the tenant has no conflicts.
type ConflictStats struct {
	TotalConflicts      int64    `json:"total_conflicts"`
	LocalWins           int64    `json:"local_wins"`
	ServerWins          int64    `json:"server_wins"`
	MergeRequired       int64    `json:"merge_required"`
	AvgResolutionTimeMs *float64 `json:"avg_resolution_time_ms"`
}

// GetConflictStats aggregates on demand; this is a diagnostic view, not a hot
// path, so there is no cache to invalidate.
func GetConflictStats(ctx context.Context, businessId string) (*ConflictStats, error) {
	if businessId == "" {
		return nil, errors.New("business id is required")
	}
	db := config.GetDB()

	// Raw SQL bypasses the tenant guard plugin; business_id is included manually.
	sql := `
	SELECT
		COUNT(*) AS total_conflicts,
		COALESCE(SUM(resolution_type = 'local'), 0) AS local_wins,
		COALESCE(SUM(resolution_type = 'server'), 0) AS server_wins,
		COALESCE(SUM(resolution_type = 'merge'), 0) AS merge_required,
		AVG(TIMESTAMPDIFF(MICROSECOND, created_at, resolved_at) / 1000.0) AS avg_resolution_time_ms
	FROM conflict_resolutions
	WHERE business_id = ?
`
	var stats ConflictStats
	if err := db.WithContext(ctx).Raw(sql, businessId).Scan(&stats).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}

// LatestResolutionForOrder returns the newest ledger row for one order, or
// utils.ErrorRecordNotFound when the order was never conflicted.
func LatestResolutionForOrder(ctx context.Context, businessId string, orderId int) (*ConflictResolution, error) {
	db := config.GetDB()
	var row ConflictResolution
	err := db.WithContext(ctx).
		Where("business_id = ? AND order_id = ?", businessId, orderId).
		Order("id DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &row, nil
}
