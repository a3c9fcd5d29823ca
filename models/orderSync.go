package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/config"
	"bitbucket.org/mmdatafocus/orders_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// SyncOrderError pairs a rejected offline order with the reason it failed,
// so the client can re-queue or discard just that item.
type SyncOrderError struct {
	Order  OfflineOrder `json:"order"`
	Reason string       `json:"reason"`
}

// SyncBatchResult is the transient per-request outcome of one sync batch.
// synced + errors + conflicts always account for every submitted order.
type SyncBatchResult struct {
	Synced    []*Order              `json:"synced"`
	Errors    []SyncOrderError      `json:"errors"`
	Conflicts []*ConflictResolution `json:"conflicts"`
}

// SyncAllPendingOrders reconciles a batch of offline-originated orders for one
// user. Each order is its own unit of work with a bounded timeout: a 500-order
// batch with one malformed row still commits the other 499. No error from one
// order escapes this function.
func SyncAllPendingOrders(ctx context.Context, offlineOrders []OfflineOrder, userId int) *SyncBatchResult {
	logger := config.GetLogger()
	result := &SyncBatchResult{
		Synced:    []*Order{},
		Errors:    []SyncOrderError{},
		Conflicts: []*ConflictResolution{},
	}

	orderTimeout := time.Duration(config.SyncOrderTimeoutSeconds()) * time.Second

	for i := range offlineOrders {
		input := offlineOrders[i]

		orderCtx, cancel := context.WithTimeout(ctx, orderTimeout)
		synced, resolution, err := syncOneOrder(orderCtx, &input, userId)
		cancel()

		switch {
		case err != nil:
			config.LogError(logger, "orderSync", "SyncAllPendingOrders", input.ClientGeneratedId, input, err)
			result.Errors = append(result.Errors, SyncOrderError{Order: input, Reason: err.Error()})
		case resolution != nil:
			result.Conflicts = append(result.Conflicts, resolution)
		default:
			result.Synced = append(result.Synced, synced)
		}
	}

	return result
}

// syncOneOrder runs the per-order state machine:
// no counterpart -> create; counterpart + no diffs -> already synced;
// counterpart + diffs -> resolve and apply. Panics from storage or model
// hooks are converted to an error so the batch continues.
func syncOneOrder(ctx context.Context, input *OfflineOrder, userId int) (synced *Order, resolution *ConflictResolution, err error) {
	defer func() {
		if r := recover(); r != nil {
			synced, resolution = nil, nil
			err = fmt.Errorf("panic while syncing order: %v", r)
		}
	}()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, fmt.Errorf("business id is required")
	}

	if err := input.validate(); err != nil {
		return nil, nil, err
	}

	server, err := GetOrderByClientGeneratedId(ctx, businessId, input.ClientGeneratedId)
	if err != nil {
		return nil, nil, err
	}

	if server == nil {
		created, err := CreateOrderFromOffline(ctx, input, userId)
		if err == nil {
			return created, nil, nil
		}
		if !isDuplicateKeyError(err) {
			return nil, nil, err
		}
		// Lost an insert race with another sync call for the same
		// client_generated_id. The unique index held the invariant; fall
		// through to reconcile against the row the winner created.
		server, err = GetOrderByClientGeneratedId(ctx, businessId, input.ClientGeneratedId)
		if err != nil {
			return nil, nil, err
		}
		if server == nil {
			return nil, nil, fmt.Errorf("order vanished after duplicate insert for %s", input.ClientGeneratedId)
		}
	}

	local := input.ToOrder(businessId, userId)
	local.ID = server.ID
	if local.CreatedAt.IsZero() {
		local.CreatedAt = server.CreatedAt
	}

	conflicts := DetectFieldConflicts(local, server)
	if len(conflicts) == 0 {
		// Identical payload resubmitted after a successful sync: a no-op,
		// not a duplicate write and not a new ledger row.
		return server, nil, nil
	}

	detectedAt := time.Now().UTC()
	res := ResolveOrderConflict(local, server)
	res.DetectedAt = detectedAt

	record, err := applyWithOrderLock(ctx, businessId, server.ID, input.ClientGeneratedId, &res, userId)
	if err != nil {
		return nil, nil, err
	}
	return nil, record, nil
}

// applyWithOrderLock wraps ApplyResolution in a best-effort redis lock keyed
// by (business, client_generated_id). Like the posting path's business lock,
// Redis is an optimization that keeps two reconnecting devices from piling up
// on one row; the SELECT ... FOR UPDATE inside ApplyResolution is the
// single-writer guarantee that reliability actually depends on.
func applyWithOrderLock(ctx context.Context, businessId string, orderId int, clientGeneratedId string, res *Resolution, userId int) (*ConflictResolution, error) {
	logger := config.GetLogger()
	redisLock := config.GetRedisLock()

	var lock *redislock.Lock
	if redisLock != nil {
		key := fmt.Sprintf("lock:order-sync:%s:%s", businessId, clientGeneratedId)
		obtained, err := redisLock.Obtain(ctx, key, 10*time.Second, nil)
		if err == redislock.ErrNotObtained {
			logger.WithFields(logrus.Fields{
				"module":              "orderSync",
				"business_id":         businessId,
				"client_generated_id": clientGeneratedId,
			}).Warn("could not obtain redis lock; proceeding with row lock only")
		} else if err != nil {
			logger.WithFields(logrus.Fields{
				"module":              "orderSync",
				"business_id":         businessId,
				"client_generated_id": clientGeneratedId,
			}).Warn("error obtaining redis lock; proceeding with row lock only: " + err.Error())
		} else {
			lock = obtained
		}
	}
	defer func() {
		if lock == nil {
			return
		}
		if releaseErr := lock.Release(ctx); releaseErr != nil {
			logger.WithFields(logrus.Fields{
				"module":              "orderSync",
				"business_id":         businessId,
				"client_generated_id": clientGeneratedId,
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
	}()

	return ApplyResolution(ctx, orderId, res, userId)
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// MySQL 1062; gorm does not translate it without TranslateError.
	return strings.Contains(err.Error(), "Duplicate entry")
}
