package httputil

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestParseFormTags(t *testing.T) {
	type req struct {
		Message string `form:"message"`
		Budget  int    `form:"budget"`
	}

	r := httptest.NewRequest("GET", "/tools?message=what+time+is+it&budget=3", nil)
	var got req
	if err := Parse(r, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Message != "what time is it" {
		t.Errorf("message = %q", got.Message)
	}
	if got.Budget != 3 {
		t.Errorf("budget = %d, want 3", got.Budget)
	}
}

func TestParseFormTagLeavesMissingFieldsZero(t *testing.T) {
	type req struct {
		Budget int `form:"budget"`
	}

	r := httptest.NewRequest("GET", "/tools", nil)
	var got req
	if err := Parse(r, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Budget != 0 {
		t.Errorf("budget = %d, want 0", got.Budget)
	}
}

func TestParsePathTagWithJSONBody(t *testing.T) {
	type req struct {
		Name   string            `path:"name" json:"-"`
		Values map[string]string `json:"values"`
	}

	r := httptest.NewRequest("PUT", "/plugins/weather/settings",
		strings.NewReader(`{"values":{"api_key":"k"},"name":"spoofed"}`))
	r.Header.Set("Content-Type", "application/json")

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "weather")
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	var got req
	if err := Parse(r, &got); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Name != "weather" {
		t.Errorf("name = %q, want weather (path param, not body)", got.Name)
	}
	if got.Values["api_key"] != "k" {
		t.Errorf("values = %v", got.Values)
	}
}

func TestParseRejectsMalformedBody(t *testing.T) {
	type req struct {
		Values map[string]string `json:"values"`
	}

	r := httptest.NewRequest("POST", "/invoke", strings.NewReader(`{"values":`))
	r.Header.Set("Content-Type", "application/json")

	var got req
	if err := Parse(r, &got); err == nil {
		t.Fatal("expected an error for a truncated body")
	}
}
