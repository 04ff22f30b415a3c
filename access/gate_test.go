package access

import (
	"context"
	"cowrite-server/core"
	"cowrite-server/stores/memory"
	"errors"
	"testing"
)

func setupGate(t *testing.T, docs ...*core.Document) (*Gate, core.DocumentStore) {
	t.Helper()
	store := memory.NewDocumentStore()
	for _, doc := range docs {
		if err := store.Create(context.Background(), doc); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}
	return NewGate(store), store
}

func TestAuthorize_NotFound(t *testing.T) {
	gate, _ := setupGate(t)

	_, err := gate.Authorize(context.Background(), "missing", "alice", core.PermissionRead)
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAuthorize_Rules(t *testing.T) {
	private := &core.Document{
		ID:    "private",
		Owner: "alice",
		Collaborators: []core.Collaborator{
			{UserID: "reader", Permission: core.PermissionRead},
			{UserID: "writer", Permission: core.PermissionWrite},
			{UserID: "admin", Permission: core.PermissionAdmin},
		},
	}
	public := &core.Document{ID: "public", Owner: "alice", IsPublic: true}
	legacy := &core.Document{ID: "legacy"}

	gate, _ := setupGate(t, private, public, legacy)

	tests := []struct {
		name     string
		doc      string
		identity core.Identity
		required core.Permission
		granted  bool
		level    core.Permission
	}{
		{"owner admin", "private", "alice", core.PermissionAdmin, true, core.PermissionAdmin},
		{"owner read", "private", "alice", core.PermissionRead, true, core.PermissionAdmin},
		{"reader read", "private", "reader", core.PermissionRead, true, core.PermissionRead},
		{"reader write", "private", "reader", core.PermissionWrite, false, ""},
		{"writer write", "private", "writer", core.PermissionWrite, true, core.PermissionWrite},
		{"writer admin", "private", "writer", core.PermissionAdmin, false, ""},
		{"collaborator admin", "private", "admin", core.PermissionAdmin, true, core.PermissionAdmin},
		{"stranger read", "private", "mallory", core.PermissionRead, false, ""},
		{"anonymous read private", "private", "", core.PermissionRead, false, ""},
		{"anonymous read public", "public", "", core.PermissionRead, true, core.PermissionRead},
		{"anonymous write public", "public", "", core.PermissionWrite, false, ""},
		{"stranger read public", "public", "mallory", core.PermissionRead, true, core.PermissionRead},
		{"anonymous write legacy", "legacy", "", core.PermissionWrite, true, core.PermissionWrite},
		{"stranger admin legacy", "legacy", "mallory", core.PermissionAdmin, true, core.PermissionAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := gate.Authorize(context.Background(), tt.doc, tt.identity, tt.required)
			if decision.Granted != tt.granted {
				t.Fatalf("Granted = %v, want %v (err %v)", decision.Granted, tt.granted, err)
			}
			if tt.granted {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				if decision.Level != tt.level {
					t.Errorf("Level = %q, want %q", decision.Level, tt.level)
				}
				if decision.Document == nil || decision.Document.ID != tt.doc {
					t.Errorf("Decision carries wrong document: %+v", decision.Document)
				}
			} else if !errors.Is(err, core.ErrPermissionDenied) {
				t.Errorf("Expected ErrPermissionDenied, got %v", err)
			}
		})
	}
}

func TestAuthorize_SeesLatestCollaborators(t *testing.T) {
	doc := &core.Document{
		ID:            "doc-1",
		Owner:         "alice",
		Collaborators: []core.Collaborator{{UserID: "bob", Permission: core.PermissionWrite}},
	}
	gate, store := setupGate(t, doc)
	ctx := context.Background()

	if _, err := gate.Authorize(ctx, "doc-1", "bob", core.PermissionWrite); err != nil {
		t.Fatalf("Expected bob to have write access: %v", err)
	}

	current, _ := store.FindID(ctx, "doc-1")
	current.RemoveCollaborator("bob")
	if err := store.Update(ctx, current); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if _, err := gate.Authorize(ctx, "doc-1", "bob", core.PermissionWrite); !errors.Is(err, core.ErrPermissionDenied) {
		t.Errorf("Expected revoked access, got %v", err)
	}
}

func TestAuthorize_VisibilityToggle(t *testing.T) {
	gate, store := setupGate(t, &core.Document{ID: "doc-1", Owner: "alice"})
	ctx := context.Background()

	if _, err := gate.Authorize(ctx, "doc-1", "", core.PermissionRead); !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("Anonymous read on private document should be denied, got %v", err)
	}

	doc, _ := store.FindID(ctx, "doc-1")
	doc.IsPublic = true
	_ = store.Update(ctx, doc)

	if _, err := gate.Authorize(ctx, "doc-1", "", core.PermissionRead); err != nil {
		t.Errorf("Anonymous read on public document should be granted, got %v", err)
	}
}

func TestEvaluate_OwnerNeverMatchesAnonymous(t *testing.T) {
	doc := &core.Document{ID: "doc-1", Owner: "alice"}

	if _, ok := Evaluate(doc, "", core.PermissionRead); ok {
		t.Error("Anonymous identity must not match a named owner")
	}
}
