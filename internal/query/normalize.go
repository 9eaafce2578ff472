package query

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// Normalize maps any accepted wire shape to the canonical value for the
// query's shape:
//
//   - list: an object envelope {data, page, limit, total, totalPages}, a bare
//     array, or anything else (an empty page)
//   - entity: {data: {...}} or the object itself; nil when absent
//   - raw: the decoded payload unchanged
//
// Rows without an "id" get one from the kind's alternate id field.
func Normalize(q Query, data any) any {
	switch q.Shape {
	case ShapeList:
		return normalizePage(q, data)
	case ShapeEntity:
		return normalizeEntity(q.Kind, data)
	default:
		return data
	}
}

func normalizePage(q Query, data any) *resource.Page {
	page, limit := q.limits()
	out := &resource.Page{Page: page, Limit: limit, Data: []resource.Entity{}}

	switch v := data.(type) {
	case []any:
		out.Data = entities(q.Kind, v)
		out.Total = len(out.Data)
		if len(out.Data) > out.Limit {
			out.Limit = len(out.Data)
		}
	case map[string]any:
		rows, ok := v["data"].([]any)
		if !ok {
			break
		}
		out.Data = entities(q.Kind, rows)
		out.Total = len(out.Data)
		if n, ok := intValue(v["page"]); ok && n > 0 {
			out.Page = n
		}
		if n, ok := intValue(v["limit"]); ok && n > 0 {
			out.Limit = n
		} else if len(out.Data) > out.Limit {
			out.Limit = len(out.Data)
		}
		if n, ok := intValue(v["total"]); ok && n >= 0 {
			out.Total = n
		}
	}

	out.Recount()
	return out
}

func normalizeEntity(k resource.Kind, data any) any {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := obj["data"].(map[string]any); ok {
		obj = inner
	}
	return resource.NormalizeEntity(k, resource.Entity(obj))
}

func entities(k resource.Kind, rows []any) []resource.Entity {
	out := make([]resource.Entity, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, resource.NormalizeEntity(k, resource.Entity(obj)))
	}
	return out
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
