package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type echo struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
}

func TestPostJSON_InjectsTraceAndDecodes(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	var gotTraceparent, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("traceparent")
		gotUser, _, _ = r.BasicAuth()
		var in echo
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(echo{Token: in.Token, Success: true})
	}))
	defer srv.Close()

	c := NewClient(tp.Tracer("test"))
	c.User, c.Pass = "admin", "secret"

	var out echo
	if err := c.PostJSON(context.Background(), srv.URL+"/api/tokens/verify", echo{Token: "abc"}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out.Token != "abc" || !out.Success {
		t.Errorf("out = %+v", out)
	}
	if gotTraceparent == "" {
		t.Error("traceparent header was not injected")
	}
	if gotUser != "admin" {
		t.Errorf("basic auth user = %q", gotUser)
	}
}

func TestPostJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"message":"Invalid token"}`))
	}))
	defer srv.Close()

	c := NewClient(sdktrace.NewTracerProvider().Tracer("test"))
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	err := c.PostJSON(context.Background(), srv.URL, map[string]string{"token": "x"}, &out)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want StatusError 404", err)
	}
	if out.Message != "Invalid token" {
		t.Errorf("error body should still be decoded, got %+v", out)
	}
}
