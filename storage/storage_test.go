package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"quake-notifier/pkg/quake"

	"cloud.google.com/go/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	ctx := context.Background()

	file, err := NewFileBackend(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("NewFileBackend() failed: %v", err)
	}
	db, err := NewSQLiteBackend(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close sqlite: %v", err)
		}
	})

	return map[string]Backend{"file": file, "sqlite": db}
}

func TestStoreStateLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, testLogger())

			state, err := s.Load(ctx)
			if err != nil || state != nil {
				t.Fatalf("Load() on empty store = (%v, %v), want (nil, nil)", state, err)
			}

			want := &quake.State{
				LastModified: time.Date(2024, 4, 17, 14, 20, 0, 0, time.UTC),
				Seen:         quake.NewIDSet("https://example.com/b.xml", "https://example.com/a.xml"),
			}
			if err := s.Save(ctx, want); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}

			got, err := s.Load(ctx)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if !got.LastModified.Equal(want.LastModified) {
				t.Errorf("LastModified = %v, want %v", got.LastModified, want.LastModified)
			}
			if strings.Join(got.Seen.Sorted(), " ") != "https://example.com/a.xml https://example.com/b.xml" {
				t.Errorf("Seen = %v", got.Seen.Sorted())
			}

			// Save replaces, never merges.
			if err := s.Save(ctx, &quake.State{Seen: quake.NewIDSet("https://example.com/c.xml")}); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			got, err = s.Load(ctx)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if len(got.Seen) != 1 || !got.Seen.Has("https://example.com/c.xml") {
				t.Errorf("Seen after replace = %v", got.Seen.Sorted())
			}
		})
	}
}

func TestStoreCorruptState(t *testing.T) {
	ctx := context.Background()
	records := map[string]string{
		"truncated":      `{"entry": [`,
		"null":           `null`,
		"empty object":   `{}`,
		"no entry list":  `{"lastModified":"2024-01-01T00:00:00Z"}`,
		"null entry":     `{"lastModified":"2024-01-01T00:00:00Z","entry":null}`,
		"entry not list": `{"entry":"a"}`,
	}
	for name, backend := range backends(t) {
		for rname, record := range records {
			t.Run(name+"/"+rname, func(t *testing.T) {
				if err := backend.Put(ctx, StateKey, []byte(record)); err != nil {
					t.Fatalf("Put() failed: %v", err)
				}

				state, err := New(backend, testLogger()).Load(ctx)
				if state != nil {
					t.Errorf("Load() state = %+v, want nil", state)
				}
				if !IsStateIOError(err) {
					t.Errorf("Load() error = %v, want StateIOError", err)
				}
			})
		}
	}
}

func TestStoreEmptyEntryListIsValid(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := backend.Put(ctx, StateKey, []byte(`{"lastModified":"2024-01-01T00:00:00Z","entry":[]}`)); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}

			state, err := New(backend, testLogger()).Load(ctx)
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if state == nil || state.Seen == nil || len(state.Seen) != 0 {
				t.Errorf("Load() state = %+v, want empty seen set", state)
			}
		})
	}
}

func TestStatePersistedFormat(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := New(backend, testLogger())

	state := &quake.State{
		LastModified: time.Date(2024, 1, 1, 7, 12, 0, 0, time.UTC),
		Seen:         quake.NewIDSet("b", "a"),
	}
	if err := s.Save(context.Background(), state); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, StateKey))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"lastModified":"2024-01-01T07:12:00Z","entry":["a","b"]}`
	if string(data) != want {
		t.Errorf("persisted state = %s, want %s", data, want)
	}
}

func TestSaveArtifact(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := New(backend, testLogger())
			s.now = func() time.Time { return time.Date(2024, 4, 17, 14, 20, 5, 0, time.UTC) }

			body := []byte("<html>maintenance</html>")
			key1, err := s.SaveArtifact(ctx, "feed-parse-error", body)
			if err != nil {
				t.Fatalf("SaveArtifact() failed: %v", err)
			}
			key2, err := s.SaveArtifact(ctx, "feed-parse-error", body)
			if err != nil {
				t.Fatalf("SaveArtifact() failed: %v", err)
			}
			if key1 == key2 {
				t.Errorf("artifact keys collide: %s", key1)
			}

			pattern := regexp.MustCompile(`^diagnostics/feed-parse-error-20240417T142005Z-[0-9a-f-]{36}\.xml$`)
			if !pattern.MatchString(key1) {
				t.Errorf("artifact key %q does not match %s", key1, pattern)
			}

			got, err := backend.Get(ctx, key1)
			if err != nil {
				t.Fatalf("Get(%s) failed: %v", key1, err)
			}
			if string(got) != string(body) {
				t.Errorf("artifact body = %q, want %q", got, body)
			}
		})
	}
}

func TestFileBackendRejectsEscapingKeys(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "../state.json", "/etc/passwd", "a/../../b"} {
		if err := backend.Put(context.Background(), key, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
	}
}

func TestFileBackendLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := backend.Put(context.Background(), StateKey, []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != StateKey {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contains %v, want only %s", names, StateKey)
	}
}

func TestArtifactKey(t *testing.T) {
	at := time.Date(2024, 4, 17, 23, 20, 0, 0, time.FixedZone("JST", 9*60*60))
	got := ArtifactKey("detail-parse-error", at, "0c8f0f6e-5d0c-4a39-9d2b-7a0c1f3b2c11")
	want := "diagnostics/detail-parse-error-20240417T142000Z-0c8f0f6e-5d0c-4a39-9d2b-7a0c1f3b2c11.xml"
	if got != want {
		t.Errorf("ArtifactKey() = %q, want %q", got, want)
	}
}

// TestRedisBackend is an integration test against a real Redis server.
func TestRedisBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	prefix := "quake-notifier-test:" + time.Now().Format("20060102150405.000000") + ":"
	backend, err := NewRedisBackend(ctx, RedisConfig{Addr: addr, KeyPrefix: prefix, ArtifactTTL: time.Minute}, testLogger())
	if err != nil {
		t.Fatalf("NewRedisBackend() failed: %v", err)
	}
	defer func() {
		backend.client.Del(ctx, prefix+StateKey)
		if err := backend.Close(); err != nil {
			t.Errorf("close redis: %v", err)
		}
	}()

	if _, err := backend.Get(ctx, StateKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on missing key error = %v, want ErrNotFound", err)
	}

	s := New(backend, testLogger())
	if err := s.Save(ctx, &quake.State{Seen: quake.NewIDSet("x")}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || !got.Seen.Has("x") {
		t.Errorf("Load() = (%v, %v), want state containing x", got, err)
	}
}

// TestGCSBackend is an integration test against a real Cloud Storage bucket.
func TestGCSBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	bucket := os.Getenv("STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("STORAGE_BUCKET not set")
	}

	ctx := context.Background()
	client, err := storage.NewClient(ctx)
	if err != nil {
		t.Fatalf("storage.NewClient() failed: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			t.Errorf("close client: %v", err)
		}
	}()

	backend := NewGCSBackend(client, bucket, testLogger())
	key := "test/" + time.Now().Format("20060102150405.000000") + ".json"
	defer func() {
		if err := client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
			t.Logf("cleanup %s: %v", key, err)
		}
	}()

	if _, err := backend.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on missing object error = %v, want ErrNotFound", err)
	}
	if err := backend.Put(ctx, key, []byte(`{"entry":[]}`)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	data, err := backend.Get(ctx, key)
	if err != nil || string(data) != `{"entry":[]}` {
		t.Errorf("Get() = (%s, %v)", data, err)
	}
}
