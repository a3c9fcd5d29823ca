package config

import (
	"os"
	"strconv"
	"strings"
)

// SyncMaxBatchSize caps the number of offline orders accepted in a single
// /orders/sync request. A reconnecting POS device can legitimately queue a few
// hundred orders, so the default is generous.
//
// Set via env:
// - SYNC_MAX_BATCH_SIZE=500
func SyncMaxBatchSize() int {
	v := strings.TrimSpace(os.Getenv("SYNC_MAX_BATCH_SIZE"))
	if v == "" {
		return 500
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 500
	}
	return n
}

// SyncOrderTimeoutSeconds bounds the storage work for one order within a sync
// batch. A timed-out order becomes an error entry in the batch result instead
// of hanging the whole request.
//
// Set via env:
// - SYNC_ORDER_TIMEOUT_SECONDS=10
func SyncOrderTimeoutSeconds() int {
	v := strings.TrimSpace(os.Getenv("SYNC_ORDER_TIMEOUT_SECONDS"))
	if v == "" {
		return 10
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10
	}
	return n
}
