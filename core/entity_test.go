package core

import (
	"errors"
	"testing"
)

func TestDocument_SetCollaborator(t *testing.T) {
	doc := &Document{ID: "doc-1", Owner: "alice"}

	if err := doc.SetCollaborator(Collaborator{UserID: "bob", Permission: PermissionRead}); err != nil {
		t.Fatalf("SetCollaborator() failed: %v", err)
	}
	if err := doc.SetCollaborator(Collaborator{UserID: "bob", Permission: PermissionWrite}); err != nil {
		t.Fatalf("SetCollaborator() update failed: %v", err)
	}

	if len(doc.Collaborators) != 1 {
		t.Fatalf("Expected 1 collaborator, got %d", len(doc.Collaborators))
	}
	if doc.Collaborators[0].Permission != PermissionWrite {
		t.Errorf("Permission mismatch: got %q, want %q", doc.Collaborators[0].Permission, PermissionWrite)
	}
}

func TestDocument_SetCollaborator_RejectsOwner(t *testing.T) {
	doc := &Document{ID: "doc-1", Owner: "alice"}

	err := doc.SetCollaborator(Collaborator{UserID: "alice", Permission: PermissionAdmin})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
	if len(doc.Collaborators) != 0 {
		t.Errorf("Owner must never be listed as collaborator")
	}
}

func TestDocument_SetCollaborator_InvalidInput(t *testing.T) {
	doc := &Document{ID: "doc-1", Owner: "alice"}

	if err := doc.SetCollaborator(Collaborator{Permission: PermissionRead}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for anonymous collaborator, got %v", err)
	}
	if err := doc.SetCollaborator(Collaborator{UserID: "bob", Permission: "owner"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown permission, got %v", err)
	}
}

func TestDocument_RemoveCollaborator(t *testing.T) {
	doc := &Document{ID: "doc-1", Owner: "alice"}
	_ = doc.SetCollaborator(Collaborator{UserID: "bob", Permission: PermissionRead})
	_ = doc.SetCollaborator(Collaborator{UserID: "carol", Permission: PermissionWrite})

	if !doc.RemoveCollaborator("bob") {
		t.Fatal("RemoveCollaborator() returned false for existing entry")
	}
	if doc.RemoveCollaborator("bob") {
		t.Error("RemoveCollaborator() returned true for removed entry")
	}
	if _, ok := doc.Collaborator("carol"); !ok {
		t.Error("Unrelated collaborator was removed")
	}
}

func TestDocument_Clone(t *testing.T) {
	doc := &Document{
		ID:            "doc-1",
		Content:       []byte("[1]"),
		Collaborators: []Collaborator{{UserID: "bob", Permission: PermissionRead}},
	}

	c := doc.Clone()
	c.Content[1] = '2'
	c.Collaborators[0].Permission = PermissionAdmin

	if string(doc.Content) != "[1]" {
		t.Errorf("Clone shares content: %s", doc.Content)
	}
	if doc.Collaborators[0].Permission != PermissionRead {
		t.Errorf("Clone shares collaborators")
	}
}
