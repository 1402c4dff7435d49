package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jobpilot/internal/errors"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), errors.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestCollectionPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	c := NewCollection[record](s, "things.json")

	if _, ok, err := c.Get("missing"); err != nil || ok {
		t.Fatalf("Get on empty collection = ok %v, err %v", ok, err)
	}
	if err := c.Put("b", record{Name: "bravo", Count: 2}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := c.Put("a", record{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := c.Get("a")
	if err != nil || !ok || got.Name != "alpha" {
		t.Fatalf("Get(a) = %+v, %v, %v", got, ok, err)
	}

	list, err := c.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "bravo" {
		t.Errorf("List() = %+v, want ordered by id", list)
	}

	found, err := c.Delete("a")
	if err != nil || !found {
		t.Fatalf("Delete(a) = %v, %v", found, err)
	}
	found, err = c.Delete("a")
	if err != nil || found {
		t.Errorf("second Delete(a) = %v, %v", found, err)
	}
}

func TestWriteIsStableAndLeavesNoTempFiles(t *testing.T) {
	s := openTestStore(t)
	c := NewCollection[record](s, "things.json")

	for _, id := range []string{"z", "m", "a"} {
		if err := c.Put(id, record{Name: id}); err != nil {
			t.Fatalf("Put(%s) error = %v", id, err)
		}
	}
	first, err := os.ReadFile(s.Path("things.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put("m", record{Name: "m"}); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(s.Path("things.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("rewriting identical content changed the file bytes")
	}
	if strings.Index(string(first), `"a"`) > strings.Index(string(first), `"z"`) {
		t.Error("keys are not written in sorted order")
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCorruptFileIsReported(t *testing.T) {
	s := openTestStore(t)
	if err := os.WriteFile(filepath.Join(s.Dir(), "users.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	users := NewCollection[record](s, "users.json")
	profiles := NewCollection[record](s, "profiles.json")

	err := users.Verify()
	if !errors.HasCode(err, errors.ErrCodePersistenceCorrupt) {
		t.Fatalf("Verify() error = %v, want PERSISTENCE_CORRUPT", err)
	}
	if !strings.Contains(err.Error(), "users.json") {
		t.Errorf("error %q does not name the file", err)
	}

	// Other files keep working.
	if err := profiles.Put("p1", record{Name: "ok"}); err != nil {
		t.Errorf("intact collection failed: %v", err)
	}
	if err := users.Put("u1", record{}); err == nil {
		t.Error("Put on corrupt file should fail")
	}
}

func TestUpdateErrorLeavesFileUntouched(t *testing.T) {
	s := openTestStore(t)
	c := NewCollection[record](s, "things.json")
	if err := c.Put("a", record{Count: 1}); err != nil {
		t.Fatal(err)
	}
	wantErr := errors.NewConflictError(errors.ErrCodeInvalidOutcomeUpdate, "nope", nil)
	err := c.Update(func(records map[string]record) error {
		records["a"] = record{Count: 99}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Update() error = %v, want %v", err, wantErr)
	}
	got, _, _ := c.Get("a")
	if got.Count != 1 {
		t.Errorf("record mutated to %d after failed update", got.Count)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := openTestStore(t)
	c := NewCollection[record](s, "counter.json")

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Update(func(records map[string]record) error {
				r := records["n"]
				r.Count++
				records["n"] = r
				return nil
			})
		}()
	}
	wg.Wait()

	got, _, err := c.Get("n")
	if err != nil {
		t.Fatal(err)
	}
	if got.Count != 20 {
		t.Errorf("Count = %d, want 20", got.Count)
	}
}

func TestCountersFlush(t *testing.T) {
	s := openTestStore(t)
	auth := NewCounters(s, "auth")
	cv := NewCounters(s, "cv-generation")

	auth.Inc("GET /health")
	auth.Inc("GET /health")
	auth.Inc("POST /register")
	cv.Inc("GET /health")

	if err := auth.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if err := cv.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	auth.Inc("GET /health")
	if err := auth.Flush(); err != nil {
		t.Fatal(err)
	}

	rec, err := auth.Persisted()
	if err != nil {
		t.Fatal(err)
	}
	if rec.RequestsTotal != 4 || rec.Endpoints["GET /health"] != 3 {
		t.Errorf("persisted auth metrics = %+v", rec)
	}
	other, _ := cv.Persisted()
	if other.RequestsTotal != 1 {
		t.Errorf("persisted cv metrics = %+v", other)
	}
	if auth.Total() != 4 {
		t.Errorf("Total() = %d, want 4", auth.Total())
	}
}

func TestCountersRunFlushesOnShutdown(t *testing.T) {
	s := openTestStore(t)
	c := NewCounters(s, "email-communications")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Hour)
		close(done)
	}()

	c.Inc("POST /campaign/initiate")
	cancel()
	<-done

	rec, err := c.Persisted()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Endpoints["POST /campaign/initiate"] != 1 {
		t.Errorf("shutdown flush missing, got %+v", rec)
	}
}
