package models

import (
	"fmt"
	"time"
)

// Resolution is the resolver's verdict for one conflicted order, carrying
// everything the applier needs to commit it and write the audit row.
type Resolution struct {
	Action       ResolutionAction `json:"action"`
	ResolvedData *Order           `json:"resolved_data"`
	Local        *Order           `json:"local"`
	Server       *Order           `json:"server"`
	Message      string           `json:"message"`
	// DetectedAt is when the orchestrator found the field conflicts; it feeds
	// the audit row's created_at so resolution latency is measurable.
	DetectedAt time.Time `json:"detected_at"`
	// Timestamp is resolution wall-clock time, independent of the two input
	// watermarks.
	Timestamp time.Time `json:"timestamp"`
}

// ResolveOrderConflict picks the surviving snapshot by last-writer-wins.
//
// Watermark per side: last_modified_at, falling back to created_at, falling
// back to the zero time (so a side with no usable timestamp is "oldest" and
// deterministically loses). Ties favor the server: it is the single source of
// truth other clients already observe, which stops two offline devices that
// both think they are newest from oscillating. Never mutates its inputs and
// never errors; reconciliation must always terminate with a decision.
func ResolveOrderConflict(local, server *Order) Resolution {
	localTs := effectiveWatermark(local)
	serverTs := effectiveWatermark(server)

	res := Resolution{
		Local:     local,
		Server:    server,
		Timestamp: time.Now().UTC(),
	}

	if localTs.After(serverTs) {
		res.Action = ResolutionActionLocalWins
		res.ResolvedData = local
		res.Message = fmt.Sprintf("local snapshot is newer (%s > %s)",
			formatWatermark(localTs), formatWatermark(serverTs))
		return res
	}

	res.Action = ResolutionActionServerWins
	res.ResolvedData = server
	if serverTs.After(localTs) {
		res.Message = fmt.Sprintf("server snapshot is newer (%s > %s)",
			formatWatermark(serverTs), formatWatermark(localTs))
	} else {
		res.Message = fmt.Sprintf("timestamps tie (%s); server is the source of truth",
			formatWatermark(serverTs))
	}
	return res
}

func effectiveWatermark(o *Order) time.Time {
	if o == nil {
		return time.Time{}
	}
	if o.LastModifiedAt != nil && !o.LastModifiedAt.IsZero() {
		return o.LastModifiedAt.UTC()
	}
	if !o.CreatedAt.IsZero() {
		return o.CreatedAt.UTC()
	}
	return time.Time{}
}

func formatWatermark(t time.Time) string {
	if t.IsZero() {
		return "no usable timestamp"
	}
	return t.Format(time.RFC3339)
}
