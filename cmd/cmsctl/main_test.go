package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/mutation"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// syncBuffer is a bytes.Buffer safe for a writer and a reader on different
// goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type apiCall struct {
	Route string
	Query url.Values
	Body  map[string]any
}

// cmsAPI is a fake CMS answering the routes the commands use.
type cmsAPI struct {
	*httptest.Server

	mu    sync.Mutex
	calls []apiCall
}

func newCMSAPI(t *testing.T) *cmsAPI {
	t.Helper()
	api := &cmsAPI{}
	api.Server = httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(api.Close)
	return api
}

func (api *cmsAPI) serve(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api")
	var in map[string]any
	_ = json.NewDecoder(r.Body).Decode(&in)

	api.mu.Lock()
	api.calls = append(api.calls, apiCall{Route: route, Query: r.URL.Query(), Body: in})
	api.mu.Unlock()

	posts := []any{
		map[string]any{"_id": "p1", "title": "Hello", "status": "published", "isActive": true},
		map[string]any{"_id": "p2", "title": "World", "status": "draft", "isActive": true},
	}

	w.Header().Set("Content-Type", "application/json")
	var body any
	switch route {
	case "GET /posts", "GET /posts/public", "GET /posts/trending", "GET /posts/featured":
		body = map[string]any{"data": posts, "page": 1, "limit": 10, "total": 2}
	case "GET /pages", "GET /categories":
		body = map[string]any{"data": []any{}, "total": 0}
	case "GET /posts/p1":
		body = map[string]any{"data": posts[0]}
	case "GET /posts/authors/top":
		body = map[string]any{"data": []any{
			map[string]any{"_id": "u1", "name": "Ada", "postCount": 2, "totalViews": 10},
		}}
	case "POST /posts":
		body = map[string]any{"data": map[string]any{"_id": "p9", "title": in["title"], "status": "draft"}}
	case "DELETE /posts/p1":
		body = map[string]any{"success": true}
	case "PATCH /posts/bulk/status":
		body = map[string]any{"success": true, "message": "updated", "affected": 2}
	case "DELETE /posts/locked":
		w.WriteHeader(http.StatusForbidden)
		body = map[string]any{"message": "You cannot delete this post"}
	default:
		w.WriteHeader(http.StatusNotFound)
		body = map[string]any{"message": "no route " + route}
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (api *cmsAPI) find(route string) (apiCall, bool) {
	api.mu.Lock()
	defer api.mu.Unlock()
	for _, c := range api.calls {
		if c.Route == route {
			return c, true
		}
	}
	return apiCall{}, false
}

// writeConfig writes a config file pointing at api with fast retries.
func writeConfig(t *testing.T, api *cmsAPI) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "api:\n" +
		"  base_url: " + api.URL + "/api\n" +
		"  timeout: 2s\n" +
		"retry:\n" +
		"  max_retries: 1\n" +
		"  base_delay: 1ms\n" +
		"  max_delay: 2ms\n" +
		"cache:\n" +
		"  sweep_interval: 0s\n" +
		"observability:\n" +
		"  logging:\n" +
		"    level: warn\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, api *cmsAPI, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &syncBuffer{}, &syncBuffer{}
	args = append([]string{"--config", writeConfig(t, api)}, args...)
	err := execute(context.Background(), args, out, errOut)
	return out.String(), errOut.String(), err
}

func TestList_PrintsPage(t *testing.T) {
	api := newCMSAPI(t)

	out, _, err := runCLI(t, api, "list", "posts")
	if err != nil {
		t.Fatal(err)
	}
	var page resource.Page
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("output is not a page: %v\n%s", err, out)
	}
	var ids []string
	for _, e := range page.Data {
		ids = append(ids, e.ID())
	}
	if diff := cmp.Diff([]string{"p1", "p2"}, ids); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	if page.Total != 2 || page.TotalPages != 1 {
		t.Errorf("total = %d, totalPages = %d", page.Total, page.TotalPages)
	}
}

func TestList_FlagsBecomeQueryParameters(t *testing.T) {
	api := newCMSAPI(t)

	_, _, err := runCLI(t, api, "list", "posts",
		"--page", "2", "--limit", "5", "--status", "Published",
		"--tag", "news", "--tag", "go", "--featured", "--param", "period=week")
	if err != nil {
		t.Fatal(err)
	}
	call, ok := api.find("GET /posts")
	if !ok {
		t.Fatal("list was not requested")
	}
	want := url.Values{
		"page":       {"2"},
		"limit":      {"5"},
		"status":     {"published"},
		"tags":       {"go,news"},
		"isFeatured": {"true"},
		"period":     {"week"},
	}
	if diff := cmp.Diff(want, call.Query); diff != "" {
		t.Errorf("query (-want +got):\n%s", diff)
	}
}

func TestList_Comments(t *testing.T) {
	api := newCMSAPI(t)

	if _, _, err := runCLI(t, api, "list", "comments"); err == nil || !strings.Contains(err.Error(), "--post") {
		t.Errorf("expected --post error, got %v", err)
	}

	_, _, err := runCLI(t, api, "list", "comments", "--post", "p1")
	if err == nil || !strings.Contains(err.Error(), "no route GET /posts/p1/comments") {
		t.Errorf("expected the comments route to be requested, got %v", err)
	}
}

func TestGet(t *testing.T) {
	api := newCMSAPI(t)

	out, _, err := runCLI(t, api, "get", "post", "p1")
	if err != nil {
		t.Fatal(err)
	}
	var ent resource.Entity
	if err := json.Unmarshal([]byte(out), &ent); err != nil {
		t.Fatal(err)
	}
	if ent.ID() != "p1" || ent.String("title") != "Hello" {
		t.Errorf("unexpected entity %v", ent)
	}
}

func TestCreate_SendsPayload(t *testing.T) {
	api := newCMSAPI(t)

	out, _, err := runCLI(t, api, "create", "posts", "--data", `{"title":"Fresh"}`)
	if err != nil {
		t.Fatal(err)
	}
	var ent resource.Entity
	if err := json.Unmarshal([]byte(out), &ent); err != nil {
		t.Fatal(err)
	}
	if ent.ID() != "p9" || ent.String("title") != "Fresh" {
		t.Errorf("unexpected entity %v", ent)
	}
	call, _ := api.find("POST /posts")
	if diff := cmp.Diff(map[string]any{"title": "Fresh"}, call.Body); diff != "" {
		t.Errorf("body (-want +got):\n%s", diff)
	}
}

func TestCreate_RejectsBadPayload(t *testing.T) {
	api := newCMSAPI(t)

	cases := map[string][]string{
		"missing":  {"create", "posts"},
		"not json": {"create", "posts", "--data", "{title"},
		"array":    {"create", "posts", "--data", `[1,2]`},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := runCLI(t, api, args...); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, ok := api.find("POST /posts"); ok {
		t.Error("no request should be sent for a bad payload")
	}
}

func TestDelete(t *testing.T) {
	api := newCMSAPI(t)

	out, _, err := runCLI(t, api, "delete", "posts", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"deleted": "p1"`) {
		t.Errorf("unexpected output %s", out)
	}
}

func TestDelete_ReportsServerMessage(t *testing.T) {
	api := newCMSAPI(t)

	_, _, err := runCLI(t, api, "delete", "posts", "locked")
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "delete posts failed: You cannot delete this post"; err.Error() != want {
		t.Errorf("error = %q, want %q", err, want)
	}
}

func TestBulk_SetStatus(t *testing.T) {
	api := newCMSAPI(t)

	out, _, err := runCLI(t, api, "bulk", "posts", "set-status", "p1", "p2", "--status", "archived")
	if err != nil {
		t.Fatal(err)
	}
	var res mutation.BulkActionResponse
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	want := mutation.BulkActionResponse{Success: true, Message: "updated", Affected: 2, IDs: []string{"p1", "p2"}}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("response (-want +got):\n%s", diff)
	}

	call, _ := api.find("PATCH /posts/bulk/status")
	wantBody := map[string]any{"ids": []any{"p1", "p2"}, "status": "archived"}
	if diff := cmp.Diff(wantBody, call.Body); diff != "" {
		t.Errorf("body (-want +got):\n%s", diff)
	}
}

func TestBulk_UnknownAction(t *testing.T) {
	api := newCMSAPI(t)

	_, _, err := runCLI(t, api, "bulk", "posts", "explode", "p1")
	if err == nil || !strings.Contains(err.Error(), "unknown bulk action") {
		t.Errorf("expected unknown action error, got %v", err)
	}
}

func TestAuthors(t *testing.T) {
	api := newCMSAPI(t)

	out, _, err := runCLI(t, api, "authors", "--limit", "3")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"name": "Ada"`) {
		t.Errorf("unexpected output %s", out)
	}
	call, _ := api.find("GET /posts/authors/top")
	if got := call.Query.Get("limit"); got != "3" {
		t.Errorf("limit = %q", got)
	}
}

func TestUnknownKind(t *testing.T) {
	api := newCMSAPI(t)

	_, _, err := runCLI(t, api, "list", "widgets")
	if err == nil || !strings.Contains(err.Error(), `unknown resource kind "widgets"`) {
		t.Errorf("expected unknown kind error, got %v", err)
	}
}

func TestWatch_PrintsUpdates(t *testing.T) {
	api := newCMSAPI(t)

	start := time.Now()
	out, _, err := runCLI(t, api, "watch", "posts", "--port", "0", "--interval", "20ms", "--for", "200ms")
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 200*time.Millisecond {
		t.Error("watch returned before --for elapsed")
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	var first watchEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line is not an event: %v\n%s", err, out)
	}
	if first.Page == nil || len(first.Page.Data) != 2 || first.Error != "" {
		t.Errorf("unexpected first event %+v", first)
	}
	if _, ok := api.find("GET /pages"); !ok {
		t.Error("watch should warm the other kinds")
	}
	if _, ok := api.find("GET /posts/public"); !ok {
		t.Error("watch should probe the API")
	}
}
