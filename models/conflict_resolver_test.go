package models_test

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/models"
	"github.com/shopspring/decimal"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestResolveOrderConflictLocalNewerWins(t *testing.T) {
	local := &models.Order{
		ClientName:     "John Doe",
		Total:          decimal.RequireFromString("150.00"),
		LastModifiedAt: ts("2024-01-15T10:30:00Z"),
	}
	server := &models.Order{
		ID:             42,
		ClientName:     "John Smith",
		Total:          decimal.RequireFromString("175.50"),
		LastModifiedAt: ts("2024-01-15T09:30:00Z"),
	}

	res := models.ResolveOrderConflict(local, server)

	if res.Action != models.ResolutionActionLocalWins {
		t.Fatalf("action = %q, want %q (%s)", res.Action, models.ResolutionActionLocalWins, res.Message)
	}
	if res.ResolvedData != local {
		t.Errorf("resolved data is not the local snapshot")
	}
	if res.Local != local || res.Server != server {
		t.Errorf("resolution must carry both input snapshots")
	}
	if res.Message == "" {
		t.Errorf("resolution message is empty")
	}

	// Same inputs, same verdict.
	again := models.ResolveOrderConflict(local, server)
	if again.Action != res.Action || again.ResolvedData != res.ResolvedData {
		t.Errorf("resolver is not deterministic: %q then %q", res.Action, again.Action)
	}
}

func TestResolveOrderConflictServerNewerWins(t *testing.T) {
	local := &models.Order{
		ClientName:     "John Doe",
		LastModifiedAt: ts("2024-01-15T09:30:00Z"),
	}
	server := &models.Order{
		ClientName:     "John Smith",
		LastModifiedAt: ts("2024-01-15T10:30:00Z"),
	}

	res := models.ResolveOrderConflict(local, server)
	if res.Action != models.ResolutionActionServerWins {
		t.Fatalf("action = %q, want %q (%s)", res.Action, models.ResolutionActionServerWins, res.Message)
	}
	if res.ResolvedData != server {
		t.Errorf("resolved data is not the server snapshot")
	}
}

func TestResolveOrderConflictTieFavorsServer(t *testing.T) {
	same := "2024-01-15T10:30:00Z"
	local := &models.Order{ClientName: "John Doe", LastModifiedAt: ts(same)}
	server := &models.Order{ClientName: "John Smith", LastModifiedAt: ts(same)}

	res := models.ResolveOrderConflict(local, server)
	if res.Action != models.ResolutionActionServerWins {
		t.Fatalf("tie: action = %q, want %q", res.Action, models.ResolutionActionServerWins)
	}
	if res.ResolvedData != server {
		t.Errorf("tie: resolved data is not the server snapshot")
	}
	if !strings.Contains(res.Message, "tie") {
		t.Errorf("tie message should say so, got %q", res.Message)
	}
}

func TestResolveOrderConflictCreatedAtFallback(t *testing.T) {
	// Local has no watermark; its created_at is still newer than the server's
	// watermark, so local wins.
	local := &models.Order{
		ClientName: "John Doe",
		CreatedAt:  *ts("2024-01-15T11:00:00Z"),
	}
	server := &models.Order{
		ClientName:     "John Smith",
		LastModifiedAt: ts("2024-01-15T10:30:00Z"),
		CreatedAt:      *ts("2024-01-15T08:00:00Z"),
	}

	res := models.ResolveOrderConflict(local, server)
	if res.Action != models.ResolutionActionLocalWins {
		t.Fatalf("created_at fallback: action = %q, want %q (%s)", res.Action, models.ResolutionActionLocalWins, res.Message)
	}

	// A zero-valued last_modified_at is as good as absent.
	zero := time.Time{}
	local.LastModifiedAt = &zero
	res = models.ResolveOrderConflict(local, server)
	if res.Action != models.ResolutionActionLocalWins {
		t.Fatalf("zero watermark fallback: action = %q, want %q", res.Action, models.ResolutionActionLocalWins)
	}
}

func TestResolveOrderConflictNoUsableTimestamps(t *testing.T) {
	local := &models.Order{ClientName: "John Doe"}
	server := &models.Order{ClientName: "John Smith"}

	res := models.ResolveOrderConflict(local, server)
	if res.Action != models.ResolutionActionServerWins {
		t.Fatalf("no timestamps: action = %q, want %q", res.Action, models.ResolutionActionServerWins)
	}
	if res.ResolvedData != server {
		t.Errorf("no timestamps: resolved data is not the server snapshot")
	}
}

func TestResolveOrderConflictDoesNotMutateInputs(t *testing.T) {
	local := &models.Order{
		ClientName:     "John Doe",
		Notes:          "extra sauce",
		Total:          decimal.RequireFromString("150.00"),
		LastModifiedAt: ts("2024-01-15T10:30:00Z"),
	}
	server := &models.Order{
		ID:             42,
		ClientName:     "John Smith",
		Total:          decimal.RequireFromString("175.50"),
		LastModifiedAt: ts("2024-01-15T09:30:00Z"),
	}
	localBefore := *local
	serverBefore := *server

	_ = models.ResolveOrderConflict(local, server)

	if local.ClientName != localBefore.ClientName || local.Notes != localBefore.Notes ||
		!local.Total.Equal(localBefore.Total) || !local.LastModifiedAt.Equal(*localBefore.LastModifiedAt) {
		t.Errorf("local snapshot was mutated: before %+v, after %+v", localBefore, *local)
	}
	if server.ID != serverBefore.ID || server.ClientName != serverBefore.ClientName ||
		!server.Total.Equal(serverBefore.Total) || !server.LastModifiedAt.Equal(*serverBefore.LastModifiedAt) {
		t.Errorf("server snapshot was mutated: before %+v, after %+v", serverBefore, *server)
	}
}
