package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/store"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/transport"
)

// BulkAction names a set operation.
type BulkAction string

const (
	BulkDelete         BulkAction = "delete"
	BulkSetStatus      BulkAction = "set-status"
	BulkSetFlag        BulkAction = "set-flag"
	BulkAddTags        BulkAction = "add-tags"
	BulkRemoveTags     BulkAction = "remove-tags"
	BulkAssignCategory BulkAction = "assign-category"
)

// Flags that can be toggled in bulk.
var bulkFlags = []string{
	resource.FieldIsActive,
	resource.FieldIsFeatured,
	resource.FieldAllowComm,
}

// BulkOperation is one operation applied to a set of ids.
type BulkOperation struct {
	Action   BulkAction
	Status   string
	Flag     string
	Value    bool
	Tags     []string
	Category string
}

// DeleteSet removes every id.
func DeleteSet() BulkOperation {
	return BulkOperation{Action: BulkDelete}
}

// SetStatus moves every id to status. Publishing has the same side effects
// as a single publish.
func SetStatus(status string) BulkOperation {
	return BulkOperation{Action: BulkSetStatus, Status: status}
}

// SetFlag sets a boolean property to an explicit value, so repeating it is
// harmless.
func SetFlag(flag string, value bool) BulkOperation {
	return BulkOperation{Action: BulkSetFlag, Flag: flag, Value: value}
}

// AddTags unions tags into every row.
func AddTags(tags ...string) BulkOperation {
	return BulkOperation{Action: BulkAddTags, Tags: tags}
}

// RemoveTags removes tags from every row.
func RemoveTags(tags ...string) BulkOperation {
	return BulkOperation{Action: BulkRemoveTags, Tags: tags}
}

// AssignCategory adds a category to every row's categories.
func AssignCategory(categoryID string) BulkOperation {
	return BulkOperation{Action: BulkAssignCategory, Category: categoryID}
}

func (op BulkOperation) validate() error {
	switch op.Action {
	case BulkDelete:
		return nil
	case BulkSetStatus:
		if !resource.ValidStatus(op.Status) {
			return fmt.Errorf("%w: invalid status %q", ErrInvalidRequest, op.Status)
		}
	case BulkSetFlag:
		if !slices.Contains(bulkFlags, op.Flag) {
			return fmt.Errorf("%w: property %q cannot be toggled", ErrInvalidRequest, op.Flag)
		}
	case BulkAddTags, BulkRemoveTags:
		if len(cleanSet(op.Tags)) == 0 {
			return fmt.Errorf("%w: %s requires at least one tag", ErrInvalidRequest, op.Action)
		}
	case BulkAssignCategory:
		if op.Category == "" {
			return fmt.Errorf("%w: assign-category requires a category id", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown bulk action %q", ErrInvalidRequest, op.Action)
	}
	return nil
}

// apply edits one cached row.
func (op BulkOperation) apply(row resource.Entity, now time.Time) {
	switch op.Action {
	case BulkSetStatus:
		if op.Status == resource.StatusPublished {
			publishRow(row, now)
			return
		}
		row[resource.FieldStatus] = op.Status
	case BulkSetFlag:
		row[op.Flag] = op.Value
	case BulkAddTags:
		row.SetStringSet(resource.FieldTags, union(row.StringSet(resource.FieldTags), cleanSet(op.Tags)))
	case BulkRemoveTags:
		drop := cleanSet(op.Tags)
		kept := slices.DeleteFunc(row.StringSet(resource.FieldTags), func(t string) bool {
			return slices.Contains(drop, t)
		})
		row.SetStringSet(resource.FieldTags, kept)
	case BulkAssignCategory:
		row.SetStringSet(resource.FieldCategories, union(row.StringSet(resource.FieldCategories), []string{op.Category}))
	}
	row.Touch(now)
}

func (op BulkOperation) request(kind resource.Kind, ids []string) transport.Request {
	bulk := kind.Path("/bulk")
	switch op.Action {
	case BulkDelete:
		return transport.Request{Method: http.MethodDelete, Path: bulk, Body: map[string]any{"ids": ids}}
	case BulkSetStatus:
		return transport.Request{Method: http.MethodPatch, Path: bulk + "/status", Body: map[string]any{"ids": ids, "status": op.Status}}
	case BulkSetFlag:
		return transport.Request{Method: http.MethodPatch, Path: bulk, Body: map[string]any{"ids": ids, "property": op.Flag, "value": op.Value}}
	case BulkAddTags:
		return transport.Request{Method: http.MethodPost, Path: bulk + "/tags", Body: map[string]any{"ids": ids, "tags": cleanSet(op.Tags)}}
	case BulkRemoveTags:
		return transport.Request{Method: http.MethodDelete, Path: bulk + "/tags", Body: map[string]any{"ids": ids, "tags": cleanSet(op.Tags)}}
	default:
		return transport.Request{Method: http.MethodPatch, Path: bulk + "/category", Body: map[string]any{"ids": ids, "categoryId": op.Category}}
	}
}

// BulkActionResponse is the server's reply to a bulk request.
type BulkActionResponse struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message,omitempty"`
	Affected int               `json:"affected"`
	IDs      []string          `json:"ids,omitempty"`
	Data     []resource.Entity `json:"data,omitempty"`
}

// BulkApply applies op to every id in one step. A single snapshot covers
// every row of every id, so a failure restores the whole batch.
func (e *Engine) BulkApply(ctx context.Context, kind resource.Kind, ids []string, op BulkOperation) (*BulkActionResponse, error) {
	start := e.now()
	ids = cleanSet(ids)

	if err := validateBulk(ids, op); err != nil {
		return nil, &Error{Op: OpBulk, Kind: kind.Name, IDs: ids, Err: err}
	}

	ctx, span := e.tracer.StartSpan(ctx, "cms.mutation.bulk",
		observability.WithAttributes(
			attribute.String("cms.kind", kind.Name),
			attribute.String("cms.bulk_action", string(op.Action)),
			attribute.Int("cms.ids", len(ids)),
		),
	)
	defer span.End()

	var snap *store.Snapshot
	if op.Action == BulkDelete {
		snap = e.removeRows(kind, ids)
	} else {
		snap = e.editRows(kind, ids, func(row resource.Entity) {
			op.apply(row, start)
		})
	}
	e.metrics.RecordBulk(ctx, kind.Name, string(op.Action), len(ids))

	var out *BulkActionResponse
	resp, err := e.send(ctx, op.request(kind, ids))
	if err == nil {
		out = decodeBulk(kind, resp.Data, ids)
		if !out.Success {
			err = &rejection{message: out.Message}
		}
	}
	if err != nil {
		span.NoticeError(err)
		m := &Mutation{ID: uuid.NewString(), Kind: kind, Op: OpBulk, StartedAt: start}
		m.enter(StateOptimisticallyApplied)
		e.rollback(ctx, m, snap, kind, ids, err)
		return nil, m.Err
	}

	for _, ent := range out.Data {
		if id := ent.ID(); id != "" && !e.tombstoned(kind, id) {
			e.swap(kind, id, ent)
		}
	}
	if op.Action == BulkDelete {
		for _, id := range ids {
			e.bury(kind, id)
		}
		e.removeRows(kind, ids)
	}

	tags := append(listTags(kind), entityTags(kind, ids)...)
	e.invalidator.Invalidate(ctx, tags...)

	e.metrics.RecordMutation(ctx, kind.Name, string(OpBulk), StateCommitted.String(), e.now().Sub(start))
	e.logger.LogInfo(ctx, "bulk mutation committed",
		"kind", kind.Name,
		"action", string(op.Action),
		"ids", len(ids),
		"affected", out.Affected,
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)
	e.announce(ctx, kind, string(OpBulk), ids, string(op.Action))
	return out, nil
}

func validateBulk(ids []string, op BulkOperation) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no ids", ErrInvalidRequest)
	}
	for _, id := range ids {
		if resource.IsTempID(id) {
			return fmt.Errorf("%w: unsaved entity %s", ErrInvalidRequest, id)
		}
	}
	return op.validate()
}

// decodeBulk reads the reply leniently: a missing or odd body still counts
// as success for every id. Only an explicit success false is a failure.
func decodeBulk(kind resource.Kind, data any, ids []string) *BulkActionResponse {
	out := &BulkActionResponse{Success: true}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			_ = json.Unmarshal(b, out)
		}
	}
	for i, ent := range out.Data {
		out.Data[i] = resource.NormalizeEntity(kind, ent)
	}
	if len(out.IDs) == 0 {
		out.IDs = append([]string(nil), ids...)
	}
	if out.Affected == 0 {
		out.Affected = len(out.IDs)
	}
	return out
}

func cleanSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
