package feed

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/anonto42/nano-midea/livefeed/internal/models"
	"github.com/samber/lo"
)

// Operator is a filter comparison understood by every source.
type Operator string

const (
	OpEqual Operator = "=="
	OpIn    Operator = "in"
)

// Filter restricts a query to documents whose field compares to Value.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Query describes a live query: one collection, conjunctive filters and an optional order.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Operator, value any) Query {
	q.Filters = append(slices.Clone(q.Filters), Filter{Field: field, Op: op, Value: value})
	return q
}

// Order returns a copy of q ordered by field.
func (q Query) Order(field string, descending bool) Query {
	q.OrderBy, q.Descending = field, descending
	return q
}

// Key renders the query as a stable string, used in logs and as a map key.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, "[%s %s %v]", f.Field, f.Op, f.Value)
	}
	if q.OrderBy != "" {
		direction := "asc"
		if q.Descending {
			direction = "desc"
		}
		fmt.Fprintf(&b, " order by %s %s", q.OrderBy, direction)
	}
	return b.String()
}

// Matches reports whether a document satisfies every filter of q.
func (q Query) Matches(fields map[string]any) bool {
	for _, f := range q.Filters {
		value, ok := fields[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if !equalValues(value, f.Value) {
				return false
			}
		case OpIn:
			if !lo.ContainsBy(toSlice(f.Value), func(candidate any) bool { return equalValues(value, candidate) }) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Sort orders documents the way the query does. Documents without the order field go last.
func (q Query) Sort(docs []models.RawDocument) {
	if q.OrderBy == "" {
		slices.SortFunc(docs, func(a, b models.RawDocument) int { return strings.Compare(a.ID, b.ID) })
		return
	}
	slices.SortStableFunc(docs, func(a, b models.RawDocument) int {
		av, aok := a.Fields[q.OrderBy]
		bv, bok := b.Fields[q.OrderBy]
		switch {
		case !aok && !bok:
			return strings.Compare(a.ID, b.ID)
		case !aok:
			return 1
		case !bok:
			return -1
		}
		c := compareValues(av, bv)
		if q.Descending {
			c = -c
		}
		if c == 0 {
			return strings.Compare(a.ID, b.ID)
		}
		return c
	})
}

func toSlice(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case []string:
		return lo.ToAnySlice(v)
	default:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice {
			return []any{value}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if at, ok := toTime(a); ok {
		bt, ok := toTime(b)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
