package sandbox

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestHandler_Evaluate(t *testing.T) {
	h := NewHandler(NewService(bundleSource(t), zerolog.Nop()))
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/sandbox/evaluate",
		strings.NewReader(`{"input_text":"I have chest pain","domain":"intake_safety"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.Evaluate(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"triggered_rules", "escalation_level", "inconclusive"} {
		if _, ok := body[k]; !ok {
			t.Errorf("response missing %q", k)
		}
	}
	if _, ok := body["status"]; ok {
		t.Error("intake sandbox result should omit status")
	}
	if string(body["escalation_level"]) != `"A"` {
		t.Errorf("escalation_level = %s", body["escalation_level"])
	}
}

func TestHandler_Evaluate_BadRequest(t *testing.T) {
	h := NewHandler(NewService(bundleSource(t), zerolog.Nop()))
	e := echo.New()

	for _, body := range []string{`{`, `{"domain":"intake_safety"}`} {
		req := httptest.NewRequest(http.MethodPost, "/sandbox/evaluate", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		err := h.Evaluate(e.NewContext(req, httptest.NewRecorder()))
		var he *echo.HTTPError
		if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", body, err)
		}
	}
}
