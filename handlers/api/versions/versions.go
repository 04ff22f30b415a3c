package versions

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
	"cowrite-server/stores/sqlite"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	CreateVersionRequest struct {
		Name string `json:"name"`
	}

	RestoreResponse struct {
		DocumentID string `json:"documentId"`
		VersionID  string `json:"versionId"`
		Title      string `json:"title"`
	}

	// VersionStore is implemented by stores that keep named versions.
	VersionStore interface {
		CreateVersion(ctx context.Context, documentID, name string, createdBy core.Identity) (*sqlite.Version, error)
		ListVersions(ctx context.Context, documentID string) ([]sqlite.Version, error)
		GetVersion(ctx context.Context, id string) (*sqlite.Version, error)
		DeleteVersion(ctx context.Context, id string) error
	}

	// Relay is the part of the live relay versions need: live rooms are
	// flushed before a version is taken and reloaded when one is restored.
	Relay interface {
		FlushDocument(ctx context.Context, documentID string) error
		Replace(ctx context.Context, documentID string, content []byte, title string) error
	}
)

func authorize(w http.ResponseWriter, r *http.Request, gate *access.Gate, documentID string, required core.Permission) bool {
	_, err := gate.Authorize(r.Context(), documentID, middleware.IdentityFrom(r.Context()), required)
	if err != nil {
		api.RenderError(w, r, err)
		return false
	}
	return true
}

// lookup loads the version named in the URL and checks the caller against its
// document.
func lookup(w http.ResponseWriter, r *http.Request, store VersionStore, gate *access.Gate, required core.Permission) (*sqlite.Version, bool) {
	version, err := store.GetVersion(r.Context(), chi.URLParam(r, "versionId"))
	if err != nil {
		api.RenderError(w, r, err)
		return nil, false
	}
	if !authorize(w, r, gate, version.DocumentID, required) {
		return nil, false
	}
	return version, true
}

// HandleCreateVersion saves the current content of a document as a named version
func HandleCreateVersion(store VersionStore, gate *access.Gate, relay Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")
		if !authorize(w, r, gate, documentID, core.PermissionWrite) {
			return
		}

		var req CreateVersionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			api.BadRequest(w, r, "Invalid request body")
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = "Version of " + time.Now().UTC().Format(time.RFC3339)
		}

		if err := relay.FlushDocument(r.Context(), documentID); err != nil {
			logrus.WithError(err).WithField("document_id", documentID).Warn("Failed to flush live room before versioning")
		}

		version, err := store.CreateVersion(r.Context(), documentID, name, middleware.IdentityFrom(r.Context()))
		if err != nil {
			api.RenderError(w, r, err)
			return
		}

		version.Content = nil
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, version)
	}
}

// HandleListVersions lists the versions of a document, newest first
func HandleListVersions(store VersionStore, gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")
		if !authorize(w, r, gate, documentID, core.PermissionRead) {
			return
		}

		versions, err := store.ListVersions(r.Context(), documentID)
		if err != nil {
			api.RenderError(w, r, err)
			return
		}
		if versions == nil {
			versions = []sqlite.Version{}
		}

		render.JSON(w, r, versions)
	}
}

// HandleGetVersion retrieves a version with its content
func HandleGetVersion(store VersionStore, gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, ok := lookup(w, r, store, gate, core.PermissionRead)
		if !ok {
			return
		}
		render.JSON(w, r, version)
	}
}

// HandleDeleteVersion deletes a version
func HandleDeleteVersion(store VersionStore, gate *access.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, ok := lookup(w, r, store, gate, core.PermissionAdmin)
		if !ok {
			return
		}

		if err := store.DeleteVersion(r.Context(), version.ID); err != nil {
			api.RenderError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRestoreVersion replaces the document content and title with a version
func HandleRestoreVersion(store VersionStore, gate *access.Gate, relay Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, ok := lookup(w, r, store, gate, core.PermissionWrite)
		if !ok {
			return
		}

		if err := relay.Replace(r.Context(), version.DocumentID, version.Content, version.Title); err != nil {
			api.RenderError(w, r, err)
			return
		}

		logrus.WithFields(logrus.Fields{
			"document_id": version.DocumentID,
			"version_id":  version.ID,
		}).Info("Version restored")
		render.JSON(w, r, RestoreResponse{
			DocumentID: version.DocumentID,
			VersionID:  version.ID,
			Title:      version.Title,
		})
	}
}

// DocumentRoutes serves the versions of one document, mounted under
// /api/documents/{id}/versions.
func DocumentRoutes(store VersionStore, gate *access.Gate, relay Relay) chi.Router {
	r := chi.NewRouter()
	r.Get("/", HandleListVersions(store, gate))
	r.Post("/", HandleCreateVersion(store, gate, relay))
	return r
}

// Routes serves single versions, mounted at /api/versions.
func Routes(store VersionStore, gate *access.Gate, relay Relay) chi.Router {
	r := chi.NewRouter()
	r.Get("/{versionId}", HandleGetVersion(store, gate))
	r.Delete("/{versionId}", HandleDeleteVersion(store, gate))
	r.Post("/{versionId}/restore", HandleRestoreVersion(store, gate, relay))
	return r
}
