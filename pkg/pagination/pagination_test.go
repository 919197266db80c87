package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxWithQuery(q string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+q, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=5&offset=10", 5, 10},
		{"limit=1000", MaxLimit, 0},
		{"limit=-3&offset=-1", DefaultLimit, 0},
		{"limit=abc", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromContext(ctxWithQuery(tt.query))
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got %+v, want limit=%d offset=%d", p, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, Params{Limit: 2, Offset: 0})
	if !r.HasMore {
		t.Error("expected has_more")
	}
	r = NewResponse([]int{5}, 5, Params{Limit: 2, Offset: 4})
	if r.HasMore {
		t.Error("expected last page")
	}
}

func TestPage(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	if got := Page(items, Params{Limit: 2, Offset: 1}); len(got) != 2 || got[0] != "b" {
		t.Errorf("unexpected page: %v", got)
	}
	if got := Page(items, Params{Limit: 10, Offset: 3}); len(got) != 2 {
		t.Errorf("expected tail of 2, got %v", got)
	}
	if got := Page(items, Params{Limit: 2, Offset: 9}); len(got) != 0 || got == nil {
		t.Errorf("expected empty non-nil page, got %v", got)
	}
}
