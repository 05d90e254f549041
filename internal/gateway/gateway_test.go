package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"localhost:9000", "http://localhost:9000"},
		{"127.0.0.1:8000", "http://127.0.0.1:8000"},
		{"0.0.0.0:8000", "http://0.0.0.0:8000"},
		{"api.example.com", "https://api.example.com"},
		{"https://api.example.com/", "https://api.example.com"},
		{"  https://api.example.com  ", "https://api.example.com"},
		{`"https://api.example.com"`, "https://api.example.com"},
		{"'api.example.com'", "https://api.example.com"},
		// Idempotence: normalizing a normalized URL is a no-op.
		{"https://api.example.com", "https://api.example.com"},
		{"http://localhost:9000", "http://localhost:9000"},
	}

	for _, tc := range cases {
		got, err := NormalizeBaseURL(tc.in)
		if err != nil {
			t.Errorf("NormalizeBaseURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeBaseURL_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "/"} {
		if _, err := NormalizeBaseURL(in); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("NormalizeBaseURL(%q) err = %v, want ErrNotConfigured", in, err)
		}
	}
}

func TestIsLoopbackOrPrivate(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"http://127.0.0.1:8080/x", true},
		{"http://localhost/x", true},
		{"http://ip6-localhost/x", true},
		{"http://10.0.0.5/x", true},
		{"http://192.168.1.10:3000/cb", true},
		{"http://0.0.0.0:8000/cb", true},
		{"https://api.example.com/x", false},
		{"https://qstash.upstash.io/v2/publish", false},
		{"http://", true}, // no host
	}

	for _, tc := range cases {
		if got := IsLoopbackOrPrivate(tc.url); got != tc.want {
			t.Errorf("IsLoopbackOrPrivate(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestBuildCallbackURL(t *testing.T) {
	g := New(Config{CallbackBaseURL: "https://h"})

	got, err := g.BuildCallbackURL("cb")
	if err != nil {
		t.Fatalf("BuildCallbackURL: %v", err)
	}
	if got != "https://h/cb" {
		t.Errorf("got %q, want %q", got, "https://h/cb")
	}

	got, err = g.BuildCallbackURL("/api/v1/transcripts/callback")
	if err != nil {
		t.Fatalf("BuildCallbackURL: %v", err)
	}
	if got != "https://h/api/v1/transcripts/callback" {
		t.Errorf("got %q", got)
	}
}

func TestBuildCallbackURL_Unconfigured(t *testing.T) {
	g := New(Config{})
	if _, err := g.BuildCallbackURL("/cb"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestPublish(t *testing.T) {
	var gotAuth, gotForward, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotForward = r.Header.Get("Upstash-Forward-Url")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"messageId":"msg_123"}`)
	}))
	defer srv.Close()

	g := New(Config{Token: "qs-token", QStashURL: srv.URL})
	id, err := g.Publish(context.Background(), "https://api.example.com/cb", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if id != "msg_123" {
		t.Errorf("id = %q, want msg_123", id)
	}
	if gotAuth != "Bearer qs-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotForward != "https://api.example.com/cb" {
		t.Errorf("Upstash-Forward-Url = %q", gotForward)
	}
	if gotBody != `{"a":1}` {
		t.Errorf("body = %q", gotBody)
	}
}

func TestPublish_SnakeCaseMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message_id":"msg_456"}`)
	}))
	defer srv.Close()

	g := New(Config{Token: "qs-token", QStashURL: srv.URL})
	id, err := g.Publish(context.Background(), "https://api.example.com/cb", []byte(`{}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != "msg_456" {
		t.Errorf("id = %q, want msg_456", id)
	}
}

func TestPublish_NoToken(t *testing.T) {
	g := New(Config{})
	if _, err := g.Publish(context.Background(), "https://api.example.com/cb", nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestPublish_QueueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"destination is loopback"}`)
	}))
	defer srv.Close()

	g := New(Config{Token: "qs-token", QStashURL: srv.URL})
	if _, err := g.Publish(context.Background(), "http://127.0.0.1/cb", []byte(`{}`)); err == nil {
		t.Fatal("Publish should fail on 4xx from the queue")
	}
}
