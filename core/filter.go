package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"strings"
)

const (
	orderField    = "_order"
	orderKeyField = "_order_key"
)

// orderKey partitions ordering state. The zero value is the default bucket used by
// messages without an _order_key. Keys of different JSON types never share a bucket.
type orderKey struct {
	set   bool
	kind  string
	value string
}

func messageOrderKey(data map[string]any) orderKey {
	v, ok := data[orderKeyField]
	if !ok || v == nil {
		return orderKey{}
	}
	switch k := v.(type) {
	case string:
		return orderKey{set: true, kind: "string", value: k}
	case json.Number:
		return orderKey{set: true, kind: "number", value: k.String()}
	case float64:
		return orderKey{set: true, kind: "number", value: strconv.FormatFloat(k, 'f', -1, 64)}
	case int, int32, int64:
		return orderKey{set: true, kind: "number", value: fmt.Sprint(k)}
	}
	return orderKey{set: true, kind: fmt.Sprintf("%T", v), value: fmt.Sprint(v)}
}

// ShouldDeliverMessage reports whether a message may be forwarded to the session. A message
// must pass the field filter and then the order filter; passing the order filter records its
// order. Rejections are logged, never returned as errors.
func (s *Subscription) ShouldDeliverMessage(data map[string]any) bool {
	if !s.deliverByFields(data) {
		s.logger.Debug("message filtered", slog.Any("data", data), slog.String("reason", "fields"))
		return false
	}
	if !s.deliverByOrder(data) {
		s.logger.Debug("message filtered", slog.Any("data", data), slog.String("reason", "order"))
		return false
	}
	return true
}

// deliverByFields compares every configured filter field present in the message with the
// session's auth info. Fields missing from the message are not checked.
func (s *Subscription) deliverByFields(data map[string]any) bool {
	if s.config == nil || len(s.config.FilterFields) == 0 {
		return true
	}
	authInfo := s.session.AuthInfo()
	for _, field := range s.config.FilterFields {
		v, ok := data[field]
		if !ok {
			continue
		}
		if !valuesEqual(authInfo[field], v) {
			return false
		}
	}
	return true
}

func (s *Subscription) deliverByOrder(data map[string]any) bool {
	raw, ok := data[orderField]
	if !ok {
		return true
	}
	order, ok := parseOrder(raw)
	if !ok {
		return false
	}
	key := messageOrderKey(data)

	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	if last, seen := s.orderState[key]; seen && order <= last {
		return false
	}
	s.orderState[key] = order
	return true
}

// parseOrder accepts JSON numbers, truncating any fraction, and decimal integer strings.
func parseOrder(v any) (int64, bool) {
	switch o := v.(type) {
	case int:
		return int64(o), true
	case int32:
		return int64(o), true
	case int64:
		return o, true
	case float64:
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return 0, false
		}
		return int64(math.Trunc(o)), true
	case json.Number:
		if i, err := o.Int64(); err == nil {
			return i, true
		}
		f, err := o.Float64()
		if err != nil {
			return 0, false
		}
		return parseOrder(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(o), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// valuesEqual compares decoded JSON values, treating all numeric types as numbers.
func valuesEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
