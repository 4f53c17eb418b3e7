package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"amberscan/pkg/domain"
)

func writeTempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receipt.jpg")
	if err := os.WriteFile(path, []byte("fake-image-bytes"), 0o600); err != nil {
		t.Fatalf("write temp image: %v", err)
	}
	return path
}

func annotationJSON(paragraphs ...[]string) string {
	type sym struct {
		Text string `json:"text"`
	}
	type word struct {
		Symbols []sym `json:"symbols"`
	}
	type para struct {
		Words []word `json:"words"`
	}
	ps := make([]para, 0, len(paragraphs))
	for _, wordTexts := range paragraphs {
		words := make([]word, 0, len(wordTexts))
		for _, wt := range wordTexts {
			syms := make([]sym, 0, len(wt))
			for _, r := range wt {
				syms = append(syms, sym{Text: string(r)})
			}
			words = append(words, word{Symbols: syms})
		}
		ps = append(ps, para{Words: words})
	}
	payload := map[string]any{
		"responses": []map[string]any{{
			"fullTextAnnotation": map[string]any{
				"pages": []map[string]any{{
					"blocks": []map[string]any{{
						"paragraphs": ps,
					}},
				}},
			},
		}},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.SetBaseURL(srv.URL)
	return c, srv
}

func TestExtractReconstructsColumnarLayout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/images:annotate") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(annotationJSON(
			[]string{"TOTAL", "80.64"},
			[]string{"VAT", "15.08"},
		)))
	})

	text, err := c.Extract(context.Background(), writeTempImage(t))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	lines := strings.Split(text, "\n")
	// leading newline, two content lines, trailing newline
	if len(lines) != 4 || lines[0] != "" || lines[3] != "" {
		t.Fatalf("unexpected line structure: %q", text)
	}
	if len(lines[1]) != 41 || len(lines[2]) != 41 {
		t.Fatalf("expected 41-column lines, got %d and %d", len(lines[1]), len(lines[2]))
	}
	if !strings.HasPrefix(lines[1], "TOTAL 80.64") {
		t.Fatalf("expected words joined by spaces, got %q", lines[1])
	}
	if strings.TrimRight(lines[1], " ") != "TOTAL 80.64" {
		t.Fatalf("expected right padding only, got %q", lines[1])
	}
}

func TestExtractTruncatesLongLines(t *testing.T) {
	long := strings.Repeat("X", 60)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(annotationJSON([]string{long})))
	})

	text, err := c.Extract(context.Background(), writeTempImage(t))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 || len(lines[1]) != 41 {
		t.Fatalf("expected long line truncated to 41 columns, got %q", text)
	}
}

func TestExtractTruncatesMultiByteLinesByRunes(t *testing.T) {
	long := strings.Repeat("€", 60)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(annotationJSON([]string{long})))
	})

	text, err := c.Extract(context.Background(), writeTempImage(t))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !utf8.ValidString(text) {
		t.Fatalf("expected truncation to preserve valid UTF-8, got %q", text)
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 || utf8.RuneCountInString(lines[1]) != 41 {
		t.Fatalf("expected 41-rune line, got %d runes: %q", utf8.RuneCountInString(lines[1]), lines[1])
	}
}

func TestExtractAPIErrorWrapsExternalService(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":[{"error":{"message":"quota exceeded"}}]}`))
	})

	_, err := c.Extract(context.Background(), writeTempImage(t))
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got: %v", err)
	}
}

func TestExtractHTTPErrorWrapsExternalService(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusForbidden)
	})

	_, err := c.Extract(context.Background(), writeTempImage(t))
	if !errors.Is(err, domain.ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got: %v", err)
	}
}

func TestExtractNoTextIsEmptyWithoutError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":[{}]}`))
	})

	text, err := c.Extract(context.Background(), writeTempImage(t))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty text for a textless image, got %q", text)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient("  ", time.Second); err == nil {
		t.Fatalf("expected missing api key to be rejected")
	}
}
