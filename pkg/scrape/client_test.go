package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchExtractsHTMLText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><style>.x{}</style><script>var x=1;</script></head>
			<body><p>Hello world</p><li>item one</li></body></html>`))
	}))
	defer srv.Close()

	c := NewClient()
	text, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(text, "Hello world") || !strings.Contains(text, "item one") {
		t.Fatalf("expected visible text, got %q", text)
	}
	if strings.Contains(text, "var x=1") || strings.Contains(text, ".x{}") {
		t.Fatalf("script/style content leaked: %q", text)
	}
}

func TestFetchRejectsBadScheme(t *testing.T) {
	c := NewClient()
	if _, err := c.Fetch(context.Background(), "ftp://example.com/file"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}
