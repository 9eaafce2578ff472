package resource

import (
	"fmt"
	"strings"
	"time"
)

// Common entity field names.
const (
	FieldID          = "id"
	FieldStatus      = "status"
	FieldIsActive    = "isActive"
	FieldIsFeatured  = "isFeatured"
	FieldAllowComm   = "allowComments"
	FieldPublishedAt = "publishedAt"
	FieldUpdatedAt   = "updatedAt"
	FieldCreatedAt   = "createdAt"
	FieldTags        = "tags"
	FieldCategories  = "categories"
)

// Statuses accepted by the API.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// ValidStatus reports whether s is a known publication status.
func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// TempIDPrefix marks ids minted locally for optimistic creates. Server ids
// never carry it.
const TempIDPrefix = "temp-"

// IsTempID reports whether id was minted locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Entity is a resource as the API returns it: a JSON object. Keeping the
// generic form preserves server-computed fields the client does not model.
type Entity map[string]any

// ID returns the entity's id, or "" when it has none.
func (e Entity) ID() string {
	if e == nil {
		return ""
	}
	return stringField(e[FieldID])
}

// String returns a string field or "".
func (e Entity) String(field string) string {
	return stringField(e[field])
}

// Bool returns a boolean field or false.
func (e Entity) Bool(field string) bool {
	b, _ := e[field].(bool)
	return b
}

// Clone returns a deep copy.
func (e Entity) Clone() Entity {
	if e == nil {
		return nil
	}
	return deepCopy(map[string]any(e)).(map[string]any)
}

// Merge copies the patch fields over the entity in place.
func (e Entity) Merge(patch map[string]any) {
	for k, v := range patch {
		e[k] = deepCopy(v)
	}
}

// Touch stamps updatedAt.
func (e Entity) Touch(now time.Time) {
	e[FieldUpdatedAt] = FormatTime(now)
}

// StringSet returns a string-list field as a slice.
func (e Entity) StringSet(field string) []string {
	switch v := e[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := stringField(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// SetStringSet stores a string list in JSON-decoded form so cached values
// compare equal to freshly decoded ones.
func (e Entity) SetStringSet(field string, values []string) {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	e[field] = out
}

// NormalizeEntity ensures the entity has an "id", falling back to the kind's
// alternate id field.
func NormalizeEntity(k Kind, e Entity) Entity {
	if e == nil {
		return nil
	}
	if e.ID() != "" {
		if s, ok := e[FieldID].(string); !ok || s == "" {
			e[FieldID] = e.ID()
		}
		return e
	}
	if k.AltIDField != "" {
		if alt := stringField(e[k.AltIDField]); alt != "" {
			e[FieldID] = alt
			return e
		}
	}
	e[FieldID] = ""
	return e
}

// FormatTime renders timestamps the way the API does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

// Snapshot deep-copies any cached value.
func Snapshot(v any) any {
	switch t := v.(type) {
	case *Page:
		return t.Clone()
	case Entity:
		return t.Clone()
	default:
		return deepCopy(v)
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case Entity:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case *Page:
		return t.Clone()
	default:
		return v
	}
}
