package redis

import (
	"context"
	"cowrite-server/core"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*documentStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewDocumentStore("redis://"+s.Addr(), "test")
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.(*documentStore).Close() })
	return store.(*documentStore), s
}

func TestNewDocumentStore_BadURL(t *testing.T) {
	if _, err := NewDocumentStore("not a url", ""); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestCreateAndFind(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	doc := &core.Document{ID: "doc-1", Content: []byte(`["a"]`), Owner: "alice"}
	if err := store.Create(ctx, doc); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !s.Exists("test:doc:doc-1") {
		t.Error("document key not written")
	}

	got, err := store.FindID(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FindID failed: %v", err)
	}
	if got.Title != core.DefaultTitle || got.Owner != "alice" || string(got.Content) != `["a"]` {
		t.Errorf("FindID = %+v", got)
	}

	if err := store.Create(ctx, &core.Document{ID: "doc-1"}); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if _, err := store.FindID(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsert(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	store.Create(ctx, &core.Document{ID: "doc-1", Owner: "alice"})
	if err := store.Upsert(ctx, "doc-1", []byte(`["x","y"]`), "Renamed"); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	got, _ := store.FindID(ctx, "doc-1")
	if string(got.Content) != `["x","y"]` || got.Title != "Renamed" || got.Owner != "alice" {
		t.Errorf("after Upsert = %+v", got)
	}

	if err := store.Upsert(ctx, "vanished", []byte(`[]`), ""); err != nil {
		t.Fatalf("Upsert insert failed: %v", err)
	}
	got, _ = store.FindID(ctx, "vanished")
	if !got.Ownerless() {
		t.Errorf("re-inserted = %+v", got)
	}
}

func TestUpdate(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	store.Create(ctx, &core.Document{ID: "doc-1", Content: []byte(`["keep"]`), Owner: "alice"})
	doc, _ := store.FindID(ctx, "doc-1")
	doc.IsPublic = true
	doc.Content = []byte(`["drop"]`)
	doc.SetCollaborator(core.Collaborator{UserID: "bob", Permission: core.PermissionWrite})
	if err := store.Update(ctx, doc); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := store.FindID(ctx, "doc-1")
	if !got.IsPublic || string(got.Content) != `["keep"]` || len(got.Collaborators) != 1 {
		t.Errorf("after Update = %+v", got)
	}

	if err := store.Update(ctx, &core.Document{ID: "ghost"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	store.Create(ctx, &core.Document{ID: "doc-1"})
	if err := store.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Exists("test:doc:doc-1") {
		t.Error("document key still present")
	}
	if err := store.Delete(ctx, "doc-1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	store.Create(ctx, &core.Document{ID: "a"})
	store.Create(ctx, &core.Document{ID: "b"})
	time.Sleep(5 * time.Millisecond)
	store.Upsert(ctx, "a", []byte(`["new"]`), "A")

	// indexed id whose value expired
	s.ZAdd("test:docs", 1, "stale")

	docs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "a" || docs[1].ID != "b" {
		t.Fatalf("List = %+v", docs)
	}
	if docs[0].Content != nil {
		t.Error("List carries content")
	}
}

func TestConcurrentUpsert(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	store.Create(ctx, &core.Document{ID: "shared", Owner: "alice"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Upsert(ctx, "shared", []byte(fmt.Sprintf(`[%d]`, i)), "T"); err != nil {
				t.Errorf("Upsert failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := store.FindID(ctx, "shared")
	if got.Owner != "alice" {
		t.Errorf("owner lost under contention: %+v", got)
	}
}

func TestUnavailable(t *testing.T) {
	store, s := setupTestRedis(t)
	s.Close()

	if _, err := store.FindID(context.Background(), "doc"); !errors.Is(err, core.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}
