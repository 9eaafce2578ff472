package query

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

func TestParams_EquivalentSetsShareSignature(t *testing.T) {
	a := Params{Tags: []string{"go", "cache", "go"}, SortBy: "createdAt", SortOrder: "DESC", Search: " cms "}
	b := Params{Page: 1, Limit: 10, Tags: []string{"cache", "go"}, SortBy: "createdAt", SortOrder: "desc", Search: "cms"}

	if a.Signature() != b.Signature() {
		t.Errorf("signatures differ:\n%s\n%s", a.Signature(), b.Signature())
	}
}

func TestParams_Normalize(t *testing.T) {
	tests := []struct {
		name      string
		in        Params
		wantPage  int
		wantLimit int
	}{
		{"defaults", Params{}, 1, DefaultLimit},
		{"negative page", Params{Page: -3, Limit: 5}, 1, 5},
		{"limit too large", Params{Page: 2, Limit: 1000}, 2, MaxLimit},
		{"negative limit", Params{Limit: -1}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got.Page != tt.wantPage || got.Limit != tt.wantLimit {
				t.Errorf("got page=%d limit=%d, want page=%d limit=%d", got.Page, got.Limit, tt.wantPage, tt.wantLimit)
			}
		})
	}
}

func TestParams_Values(t *testing.T) {
	p := Params{
		Page:       2,
		Status:     "Published",
		Tags:       []string{"b", "a"},
		IsFeatured: Bool(true),
		Extra:      map[string]string{"period": "week", "empty": ""},
	}
	want := "isFeatured=true&limit=10&page=2&period=week&status=published&tags=a%2Cb"
	if got := p.Signature(); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
}

func TestParams_PublicStripsPrivateFilters(t *testing.T) {
	p := Params{Status: "draft", IsActive: Bool(false), Author: "u1"}
	pub := p.Public()
	if pub.Status != "" || pub.IsActive != nil {
		t.Errorf("private filters survived: %+v", pub)
	}
	if pub.Author != "u1" {
		t.Errorf("author filter lost")
	}
}

func TestQuery_Keys(t *testing.T) {
	if got := Detail(resource.Posts, "a").Key().String(); got != "/posts/a" {
		t.Errorf("detail key = %q", got)
	}
	if got := PublicList(resource.Pages, Params{Status: "draft"}).Key().String(); got != "/pages/public?limit=10&page=1" {
		t.Errorf("public list key = %q", got)
	}
	if got := BySlug(resource.Categories, "news").Key().String(); got != "/categories/slug/news" {
		t.Errorf("slug key = %q", got)
	}
}

func TestNormalize_WireShapes(t *testing.T) {
	list := List(resource.Posts, Params{Page: 1, Limit: 10})

	tests := []struct {
		name string
		q    Query
		in   any
		want any
	}{
		{
			name: "envelope",
			q:    list,
			in: map[string]any{
				"data":       []any{map[string]any{"id": "a"}, map[string]any{"_id": "b"}},
				"page":       float64(1),
				"total":      float64(25),
				"totalPages": float64(99),
			},
			want: &resource.Page{
				Data:       []resource.Entity{{"id": "a"}, {"_id": "b", "id": "b"}},
				Page:       1,
				Limit:      10,
				Total:      25,
				TotalPages: 3,
			},
		},
		{
			name: "bare array",
			q:    list,
			in:   []any{map[string]any{"id": "a"}, "junk"},
			want: &resource.Page{Data: []resource.Entity{{"id": "a"}}, Page: 1, Limit: 10, Total: 1, TotalPages: 1},
		},
		{
			name: "error shaped body",
			q:    list,
			in:   map[string]any{"message": "nope"},
			want: &resource.Page{Data: []resource.Entity{}, Page: 1, Limit: 10},
		},
		{
			name: "wrapped entity",
			q:    Detail(resource.Posts, "a"),
			in:   map[string]any{"data": map[string]any{"_id": "a", "title": "T"}},
			want: resource.Entity{"_id": "a", "id": "a", "title": "T"},
		},
		{
			name: "entity without identity",
			q:    Detail(resource.Posts, "a"),
			in:   map[string]any{"title": "T"},
			want: resource.Entity{"id": "", "title": "T"},
		},
		{
			name: "missing entity",
			q:    Detail(resource.Posts, "a"),
			in:   "Not Found",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Normalize(tt.q, tt.in)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_BareArrayLargerThanLimit(t *testing.T) {
	rows := make([]any, 15)
	for i := range rows {
		rows[i] = map[string]any{"id": string(rune('a' + i))}
	}
	p := Normalize(List(resource.Posts, Params{Limit: 10}), rows).(*resource.Page)
	if len(p.Data) != 15 || p.Limit != 15 || p.TotalPages != 1 {
		t.Errorf("unexpected page %d rows limit=%d pages=%d", len(p.Data), p.Limit, p.TotalPages)
	}
}
