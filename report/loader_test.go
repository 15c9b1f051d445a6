package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"quake-notifier/pkg/quake"
)

func TestLoaderLoad(t *testing.T) {
	detail, err := os.ReadFile(filepath.Join("testdata", "detail.xml"))
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detail.xml":
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write(detail)
		case "/maintenance.xml":
			_, _ = w.Write([]byte("<html><body>maintenance</body></html>"))
		case "/headless.xml":
			_, _ = w.Write([]byte(`<Report><Control><Title>x</Title></Control></Report>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	loader := NewLoader(srv.Client(), "quake-notifier-test", testLogger())
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		uri := srv.URL + "/detail.xml"
		doc, err := loader.Load(ctx, uri)
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if doc.URI != uri {
			t.Errorf("URI = %q, want %q", doc.URI, uri)
		}
		if Classify(doc) != KindDetail {
			t.Errorf("Classify() = %v, want %v", Classify(doc), KindDetail)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := loader.Load(ctx, srv.URL+"/missing.xml")
		var le *LoadError
		if !errors.As(err, &le) {
			t.Fatalf("Load() error = %v, want *LoadError", err)
		}
		var ne *quake.NetworkError
		if !errors.As(err, &ne) || ne.StatusCode != http.StatusNotFound {
			t.Errorf("Load() error = %v, want NetworkError with 404", err)
		}
	})

	for _, path := range []string{"/maintenance.xml", "/headless.xml"} {
		t.Run("malformed "+path, func(t *testing.T) {
			uri := srv.URL + path
			_, err := loader.Load(ctx, uri)
			var le *LoadError
			if !errors.As(err, &le) || le.URI != uri {
				t.Fatalf("Load() error = %v, want *LoadError for %s", err, uri)
			}
			pe, ok := quake.AsParseError(err)
			if !ok {
				t.Fatalf("Load() error = %v, want wrapped ParseError", err)
			}
			if len(pe.Body) == 0 {
				t.Error("ParseError should carry the raw body")
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		_, err := loader.Load(ctx, "http://127.0.0.1:1/detail.xml")
		if !quake.IsNetworkError(err) {
			t.Errorf("Load() error = %v, want NetworkError", err)
		}
	})
}
