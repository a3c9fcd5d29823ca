package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FieldConflict reports one business field whose local and server values
// diverge at reconciliation time.
type FieldConflict struct {
	Field       string      `json:"field"`
	LocalValue  interface{} `json:"local_value"`
	ServerValue interface{} `json:"server_value"`
}

// comparableOrderFields is the fixed set of mutable business fields the
// detector inspects, in declaration order. Identity fields (id,
// client_generated_id, created_at) are never compared.
var comparableOrderFields = []string{
	"client_name",
	"client_phone",
	"client_address",
	"total",
	"delivery_date",
	"delivery_time",
	"status",
	"notes",
}

// DetectFieldConflicts compares two snapshots of the same order field by
// field. Pure: no clock, no storage. The result order follows
// comparableOrderFields, so output is deterministic for fixed inputs.
func DetectFieldConflicts(local, server *Order) []FieldConflict {
	conflicts := []FieldConflict{}
	if local == nil || server == nil {
		return conflicts
	}
	for _, field := range comparableOrderFields {
		localValue := orderFieldValue(local, field)
		serverValue := orderFieldValue(server, field)
		if !fieldValuesEqual(localValue, serverValue) {
			conflicts = append(conflicts, FieldConflict{
				Field:       field,
				LocalValue:  localValue,
				ServerValue: serverValue,
			})
		}
	}
	return conflicts
}

func orderFieldValue(o *Order, field string) interface{} {
	switch field {
	case "client_name":
		return o.ClientName
	case "client_phone":
		return o.ClientPhone
	case "client_address":
		return o.ClientAddress
	case "total":
		return o.Total
	case "delivery_date":
		return o.DeliveryDate
	case "delivery_time":
		return o.DeliveryTime
	case "status":
		return string(o.Status)
	case "notes":
		return o.Notes
	}
	return nil
}

// fieldValuesEqual is the null-aware equality from the sync contract:
// "", nil and a zero time are all the semantic "no value", so an offline
// client that serializes an empty note as "" never conflicts with a server
// row that stores NULL.
func fieldValuesEqual(a, b interface{}) bool {
	if isAbsent(a) && isAbsent(b) {
		return true
	}
	if isAbsent(a) != isAbsent(b) {
		return false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Equal(bv)
	case *time.Time:
		bv, ok := b.(*time.Time)
		return ok && av.Equal(*bv)
	}
	return a == b
}

func isAbsent(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case *time.Time:
		return t == nil || t.IsZero()
	}
	return false
}
