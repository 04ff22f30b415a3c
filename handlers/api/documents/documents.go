package documents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cowrite-server/access"
	"cowrite-server/core"
	"cowrite-server/handlers/api"
	"cowrite-server/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type (
	// Relay is the part of the live relay the HTTP surface needs.
	Relay interface {
		SetTitle(ctx context.Context, documentID, title string) error
		Delete(ctx context.Context, documentID string) error
	}

	DocumentResponse struct {
		ID            string              `json:"id"`
		Title         string              `json:"title"`
		Content       json.RawMessage     `json:"content,omitempty"`
		Owner         core.Identity       `json:"owner,omitempty"`
		Collaborators []core.Collaborator `json:"collaborators"`
		IsPublic      bool                `json:"isPublic"`
		Permission    core.Permission     `json:"permission"`
		CreatedAt     time.Time           `json:"createdAt"`
		UpdatedAt     time.Time           `json:"updatedAt"`
	}

	CreateDocumentRequest struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}

	UpdateTitleRequest struct {
		Title string `json:"title"`
	}

	ShareRequest struct {
		UserID     string `json:"userId"`
		Permission string `json:"permission"`
	}

	UpdateCollaboratorRequest struct {
		Permission string `json:"permission"`
	}

	VisibilityRequest struct {
		IsPublic *bool `json:"isPublic"`
	}
)

func newDocumentResponse(doc *core.Document, level core.Permission, withContent bool) DocumentResponse {
	resp := DocumentResponse{
		ID:            doc.ID,
		Title:         doc.Title,
		Owner:         doc.Owner,
		Collaborators: doc.Collaborators,
		IsPublic:      doc.IsPublic,
		Permission:    level,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if resp.Collaborators == nil {
		resp.Collaborators = []core.Collaborator{}
	}
	if withContent {
		resp.Content = core.DecodeEditLog(doc.Content).Encode()
	}
	return resp
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Validationf("invalid request body")
	}
	return nil
}

// authorize runs the gate for the caller and renders any failure.
func authorize(w http.ResponseWriter, r *http.Request, gate *access.Gate, required core.Permission) (access.Decision, bool) {
	id := chi.URLParam(r, "id")
	decision, err := gate.Authorize(r.Context(), id, middleware.IdentityFrom(r.Context()), required)
	if err != nil {
		api.RenderError(w, r, err)
		return decision, false
	}
	return decision, true
}

// HandleList lists the documents the caller may read, most recently updated first.
func HandleList(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.IdentityFrom(r.Context())

		docs, err := store.List(r.Context())
		if err != nil {
			api.RenderError(w, r, err)
			return
		}

		visible := make([]DocumentResponse, 0, len(docs))
		for _, doc := range docs {
			if level, ok := access.Evaluate(doc, identity, core.PermissionRead); ok {
				visible = append(visible, newDocumentResponse(doc, level, false))
			}
		}

		render.JSON(w, r, visible)
	}
}

// HandleCreate creates a document owned by the caller.
func HandleCreate(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			api.BadRequest(w, r, "Invalid request body")
			return
		}

		id := strings.TrimSpace(req.ID)
		if id == "" {
			id = ulid.Make().String()
		}

		doc := &core.Document{
			ID:      id,
			Title:   strings.TrimSpace(req.Title),
			Content: core.EditLog{}.Encode(),
			Owner:   middleware.IdentityFrom(r.Context()),
		}
		if err := store.Create(r.Context(), doc); err != nil {
			api.RenderError(w, r, err)
			return
		}

		logrus.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"owner":       doc.Owner,
		}).Info("Document created")

		level, _ := access.Evaluate(doc, doc.Owner, core.PermissionRead)
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, newDocumentResponse(doc, level, true))
	}
}

// HandleGet returns the last persisted snapshot of a document.
func HandleGet(gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision, ok := authorize(w, r, gate, core.PermissionRead)
		if !ok {
			return
		}
		render.JSON(w, r, newDocumentResponse(decision.Document, decision.Level, true))
	}
}

// HandleUpdateTitle renames a document. Members of a live room are notified.
func HandleUpdateTitle(gate *access.Gate, relay Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateTitleRequest
		if err := decode(r, &req); err != nil {
			api.RenderError(w, r, err)
			return
		}
		title := strings.TrimSpace(req.Title)
		if title == "" {
			api.BadRequest(w, r, "Title is required")
			return
		}

		decision, ok := authorize(w, r, gate, core.PermissionWrite)
		if !ok {
			return
		}

		if err := relay.SetTitle(r.Context(), decision.Document.ID, title); err != nil {
			api.RenderError(w, r, err)
			return
		}

		render.JSON(w, r, map[string]string{"id": decision.Document.ID, "title": title})
	}
}

// HandleDelete removes a document, disconnecting anyone editing it.
func HandleDelete(gate *access.Gate, relay Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision, ok := authorize(w, r, gate, core.PermissionAdmin)
		if !ok {
			return
		}
		id := decision.Document.ID

		if err := relay.Delete(r.Context(), id); err != nil {
			api.RenderError(w, r, err)
			return
		}

		logrus.WithField("document_id", id).Info("Document deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleListCollaborators returns the explicit grants on a document.
func HandleListCollaborators(gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision, ok := authorize(w, r, gate, core.PermissionRead)
		if !ok {
			return
		}
		collaborators := decision.Document.Collaborators
		if collaborators == nil {
			collaborators = []core.Collaborator{}
		}
		render.JSON(w, r, collaborators)
	}
}

// HandleShare grants userId a permission level, replacing any earlier grant.
func HandleShare(store core.DocumentStore, gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ShareRequest
		if err := decode(r, &req); err != nil {
			api.RenderError(w, r, err)
			return
		}
		permission, err := core.ParsePermission(req.Permission)
		if err != nil {
			api.RenderError(w, r, err)
			return
		}

		decision, ok := authorize(w, r, gate, core.PermissionAdmin)
		if !ok {
			return
		}

		setCollaborator(w, r, store, decision.Document, core.Identity(strings.TrimSpace(req.UserID)), permission, false)
	}
}

// HandleUpdateCollaborator changes the level of an existing grant.
func HandleUpdateCollaborator(store core.DocumentStore, gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateCollaboratorRequest
		if err := decode(r, &req); err != nil {
			api.RenderError(w, r, err)
			return
		}
		permission, err := core.ParsePermission(req.Permission)
		if err != nil {
			api.RenderError(w, r, err)
			return
		}

		decision, ok := authorize(w, r, gate, core.PermissionAdmin)
		if !ok {
			return
		}

		setCollaborator(w, r, store, decision.Document, core.Identity(chi.URLParam(r, "userId")), permission, true)
	}
}

func setCollaborator(w http.ResponseWriter, r *http.Request, store core.DocumentStore, doc *core.Document, user core.Identity, permission core.Permission, mustExist bool) {
	if _, exists := doc.Collaborator(user); mustExist && !exists {
		api.RenderError(w, r, core.NotFoundf("collaborator %s", user))
		return
	}

	err := doc.SetCollaborator(core.Collaborator{
		UserID:     user,
		Permission: permission,
		GrantedAt:  time.Now().UTC(),
	})
	if err != nil {
		api.RenderError(w, r, err)
		return
	}
	if err := store.Update(r.Context(), doc); err != nil {
		api.RenderError(w, r, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"user_id":     user,
		"permission":  permission,
	}).Info("Collaborator permission set")
	render.JSON(w, r, doc.Collaborators)
}

// HandleRemoveCollaborator revokes a grant. Live sessions of the user lose
// the access on their next operation.
func HandleRemoveCollaborator(store core.DocumentStore, gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision, ok := authorize(w, r, gate, core.PermissionAdmin)
		if !ok {
			return
		}
		doc := decision.Document
		user := core.Identity(chi.URLParam(r, "userId"))

		if !doc.RemoveCollaborator(user) {
			api.RenderError(w, r, core.NotFoundf("collaborator %s", user))
			return
		}
		if err := store.Update(r.Context(), doc); err != nil {
			api.RenderError(w, r, err)
			return
		}

		logrus.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"user_id":     user,
		}).Info("Collaborator removed")
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSetVisibility toggles public read access.
func HandleSetVisibility(store core.DocumentStore, gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VisibilityRequest
		if err := decode(r, &req); err != nil {
			api.RenderError(w, r, err)
			return
		}
		if req.IsPublic == nil {
			api.BadRequest(w, r, "isPublic is required")
			return
		}

		decision, ok := authorize(w, r, gate, core.PermissionAdmin)
		if !ok {
			return
		}
		doc := decision.Document
		doc.IsPublic = *req.IsPublic
		if err := store.Update(r.Context(), doc); err != nil {
			api.RenderError(w, r, err)
			return
		}

		logrus.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"is_public":   doc.IsPublic,
		}).Info("Document visibility changed")
		render.JSON(w, r, map[string]any{"id": doc.ID, "isPublic": doc.IsPublic})
	}
}

// Routes builds the document router, mounted at /api/documents. Each of
// perDocument is applied to the /{id} subrouter.
func Routes(store core.DocumentStore, gate *access.Gate, relay Relay, perDocument ...func(r chi.Router)) chi.Router {
	r := chi.NewRouter()
	r.Get("/", HandleList(store))
	r.Post("/", HandleCreate(store))
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", HandleGet(gate))
		r.Delete("/", HandleDelete(gate, relay))
		r.Patch("/title", HandleUpdateTitle(gate, relay))
		r.Put("/visibility", HandleSetVisibility(store, gate))
		r.Post("/share", HandleShare(store, gate))
		r.Get("/collaborators", HandleListCollaborators(gate))
		r.Put("/collaborators/{userId}", HandleUpdateCollaborator(store, gate))
		r.Delete("/collaborators/{userId}", HandleRemoveCollaborator(store, gate))
		for _, fn := range perDocument {
			fn(r)
		}
	})
	return r
}
