package exchange

import (
	"fmt"
	"strconv"
)

// OrderOutcome is the parsed per-order status from an /exchange response.
// Exactly one of Resting, Filled, or Err describes the outcome.
type OrderOutcome struct {
	OrderID string
	Resting bool
	Filled  bool
	Size    float64
	AvgPx   float64
	Err     string
}

// ParseOrderResponse unpacks the nested statuses array of an order action
// response. A top-level "err" status or a per-order "error" entry comes back
// as OrderOutcome.Err, not a Go error: the HTTP exchange succeeded, the order
// did not.
func ParseOrderResponse(resp map[string]any) (OrderOutcome, error) {
	if resp == nil {
		return OrderOutcome{}, fmt.Errorf("empty exchange response")
	}
	if status, _ := resp["status"].(string); status != "ok" {
		if msg, ok := resp["response"].(string); ok {
			return OrderOutcome{Err: msg}, nil
		}
		return OrderOutcome{}, fmt.Errorf("exchange status %v", resp["status"])
	}
	response, _ := resp["response"].(map[string]any)
	data, _ := response["data"].(map[string]any)
	statuses, _ := data["statuses"].([]any)
	if len(statuses) == 0 {
		return OrderOutcome{}, fmt.Errorf("exchange response carries no statuses")
	}
	entry, _ := statuses[0].(map[string]any)
	if entry == nil {
		return OrderOutcome{}, fmt.Errorf("malformed status entry %v", statuses[0])
	}
	if msg, ok := entry["error"].(string); ok {
		return OrderOutcome{Err: msg}, nil
	}
	if resting, ok := entry["resting"].(map[string]any); ok {
		return OrderOutcome{OrderID: stringFromAny(resting["oid"]), Resting: true}, nil
	}
	if filled, ok := entry["filled"].(map[string]any); ok {
		return OrderOutcome{
			OrderID: stringFromAny(filled["oid"]),
			Filled:  true,
			Size:    floatFromAny(filled["totalSz"]),
			AvgPx:   floatFromAny(filled["avgPx"]),
		}, nil
	}
	return OrderOutcome{}, fmt.Errorf("unrecognized status entry %v", entry)
}

// ActionOK reports whether a non-order action (updateLeverage) succeeded,
// returning the error message otherwise.
func ActionOK(resp map[string]any) (bool, string) {
	if resp == nil {
		return false, "empty exchange response"
	}
	if status, _ := resp["status"].(string); status != "ok" {
		if msg, ok := resp["response"].(string); ok {
			return false, msg
		}
		return false, fmt.Sprintf("exchange status %v", resp["status"])
	}
	return true, ""
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return 0
	}
}
