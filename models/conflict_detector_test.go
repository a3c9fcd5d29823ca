package models_test

import (
	"reflect"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/models"
	"github.com/shopspring/decimal"
)

func TestDetectFieldConflictsReportsEachDivergentField(t *testing.T) {
	local := &models.Order{
		ClientGeneratedId: "offline-abc-123",
		ClientName:        "John Doe",
		ClientPhone:       "+959123456789",
		Total:             decimal.RequireFromString("150.00"),
		Status:            models.OrderStatusPreparing,
		Notes:             "Extra sauce",
	}
	server := &models.Order{
		ID:                42,
		ClientGeneratedId: "offline-abc-123",
		ClientName:        "John Smith",
		ClientPhone:       "+959987654321",
		Total:             decimal.RequireFromString("175.50"),
		Status:            models.OrderStatusPending,
		Notes:             "",
	}

	conflicts := models.DetectFieldConflicts(local, server)

	wantFields := []string{"client_name", "client_phone", "total", "status", "notes"}
	if len(conflicts) != len(wantFields) {
		t.Fatalf("got %d conflicts, want %d: %+v", len(conflicts), len(wantFields), conflicts)
	}
	for i, want := range wantFields {
		if conflicts[i].Field != want {
			t.Errorf("conflict[%d].Field = %q, want %q", i, conflicts[i].Field, want)
		}
	}
	if conflicts[0].LocalValue != "John Doe" || conflicts[0].ServerValue != "John Smith" {
		t.Errorf("client_name conflict carries wrong values: %+v", conflicts[0])
	}

	// Same inputs, same output.
	again := models.DetectFieldConflicts(local, server)
	if !reflect.DeepEqual(conflicts, again) {
		t.Errorf("detector is not deterministic:\nfirst:  %+v\nsecond: %+v", conflicts, again)
	}
}

func TestDetectFieldConflictsIdenticalSnapshots(t *testing.T) {
	deliveryDate := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	lastModified := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	order := func() *models.Order {
		return &models.Order{
			ClientName:    "Aye Chan",
			ClientPhone:   "+959123456789",
			ClientAddress: "12 Bogyoke Rd",
			Total:         decimal.RequireFromString("9500"),
			DeliveryDate:  &deliveryDate,
			DeliveryTime:  "18:00",
			Status:        models.OrderStatusReady,
			Notes:         "ring the bell",
		}
	}

	local, server := order(), order()
	// Identity and bookkeeping fields never count as conflicts.
	server.ID = 7
	server.LastModifiedAt = &lastModified
	server.SyncStatus = models.SyncStatusConflict
	server.CreatedByUserId = 99

	if got := models.DetectFieldConflicts(local, server); len(got) != 0 {
		t.Fatalf("identical snapshots reported conflicts: %+v", got)
	}
	if got := models.DetectFieldConflicts(local, server); len(got) != 0 {
		t.Fatalf("second run reported conflicts: %+v", got)
	}
}

func TestDetectFieldConflictsNullAwareEquality(t *testing.T) {
	// An offline client serializing an unset note as "" must not conflict
	// with a server row that stores the field as NULL/empty.
	local := &models.Order{ClientName: "A", Notes: ""}
	server := &models.Order{ClientName: "A"}
	if got := models.DetectFieldConflicts(local, server); len(got) != 0 {
		t.Fatalf("empty vs unset notes reported conflicts: %+v", got)
	}

	// nil delivery date vs zero-valued delivery date: both absent.
	zero := time.Time{}
	local = &models.Order{ClientName: "A", DeliveryDate: nil}
	server = &models.Order{ClientName: "A", DeliveryDate: &zero}
	if got := models.DetectFieldConflicts(local, server); len(got) != 0 {
		t.Fatalf("nil vs zero delivery_date reported conflicts: %+v", got)
	}

	// Absent on one side only is a real conflict.
	local = &models.Order{ClientName: "A", Notes: "no onions"}
	server = &models.Order{ClientName: "A", Notes: ""}
	got := models.DetectFieldConflicts(local, server)
	if len(got) != 1 || got[0].Field != "notes" {
		t.Fatalf("present-vs-absent notes: got %+v, want single notes conflict", got)
	}
}

func TestDetectFieldConflictsDecimalScale(t *testing.T) {
	local := &models.Order{ClientName: "A", Total: decimal.RequireFromString("150")}
	server := &models.Order{ClientName: "A", Total: decimal.RequireFromString("150.00")}
	if got := models.DetectFieldConflicts(local, server); len(got) != 0 {
		t.Fatalf("150 vs 150.00 reported conflicts: %+v", got)
	}

	server.Total = decimal.RequireFromString("150.01")
	got := models.DetectFieldConflicts(local, server)
	if len(got) != 1 || got[0].Field != "total" {
		t.Fatalf("150 vs 150.01: got %+v, want single total conflict", got)
	}
}

func TestDetectFieldConflictsNilInputs(t *testing.T) {
	order := &models.Order{ClientName: "A"}
	if got := models.DetectFieldConflicts(nil, order); len(got) != 0 {
		t.Fatalf("nil local: got %+v", got)
	}
	if got := models.DetectFieldConflicts(order, nil); len(got) != 0 {
		t.Fatalf("nil server: got %+v", got)
	}
	if got := models.DetectFieldConflicts(nil, nil); got == nil || len(got) != 0 {
		t.Fatalf("nil both: got %+v, want empty non-nil slice", got)
	}
}
