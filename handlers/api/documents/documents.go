package documents

import (
	"collab-docs/core"
	"collab-docs/middleware"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	DocumentCreateRequest struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}

	DocumentCreateResponse struct {
		ID string `json:"id"`
	}

	DocumentResponse struct {
		*core.Document
		Permission core.Permission `json:"permission"`
	}

	// DocumentUpdateRequest changes the fields that are present.
	DocumentUpdateRequest struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
	}

	ShareRequest struct {
		UserID     string          `json:"userId"`
		Permission core.Permission `json:"permission"`
	}

	SharedDocumentResponse struct {
		Document   *core.Document  `json:"document"`
		Permission core.Permission `json:"permission"`
		SharedAt   time.Time       `json:"sharedAt"`
	}

	DocumentListResponse struct {
		OwnedDocuments  []*core.Document         `json:"ownedDocuments"`
		SharedDocuments []SharedDocumentResponse `json:"sharedDocuments"`
	}

	// ContentNotifier pushes content written outside a session to the
	// session's members.
	ContentNotifier interface {
		NotifyContent(documentID, userID, content string) int
	}
)

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}

// renderStoreError maps a core error kind onto an HTTP status.
func renderStoreError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		renderError(w, r, http.StatusNotFound, "Document not found")
	case errors.Is(err, core.ErrPermissionDenied):
		renderError(w, r, http.StatusForbidden, "Permission denied")
	case errors.Is(err, core.ErrStoreUnavailable):
		renderError(w, r, http.StatusServiceUnavailable, message)
	default:
		renderError(w, r, http.StatusInternalServerError, message)
	}
}

func HandleCreate(repo core.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())

		var body DocumentCreateRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				renderError(w, r, http.StatusBadRequest, "Invalid request body")
				return
			}
		}

		id, err := repo.Create(r.Context(), &core.Document{
			Title:   body.Title,
			Content: body.Content,
			OwnerID: userID,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":  err,
				"userID": userID,
			}).Error("Failed to create document")
			renderStoreError(w, r, err, "Failed to create document")
			return
		}

		render.JSON(w, r, DocumentCreateResponse{ID: id})
	}
}

func HandleGet(repo core.DocumentRepository, oracle core.PermissionOracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		id := chi.URLParam(r, "id")
		if id == "" {
			renderError(w, r, http.StatusBadRequest, "Document id is required")
			return
		}

		perm, err := oracle.Check(r.Context(), id, userID)
		if err != nil {
			renderStoreError(w, r, err, "Failed to check permission")
			return
		}
		if !perm.CanRead() {
			renderError(w, r, http.StatusForbidden, "Permission denied")
			return
		}

		doc, err := repo.FindID(r.Context(), id)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":      err,
				"documentID": id,
			}).Warn("Failed to get document")
			renderStoreError(w, r, err, "Failed to get document")
			return
		}

		render.JSON(w, r, DocumentResponse{Document: doc, Permission: perm})
	}
}

// HandleShare lets the owner grant viewer or editor access to another user.
func HandleShare(repo core.DocumentRepository, oracle core.PermissionOracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		id := chi.URLParam(r, "id")

		var body ShareRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if body.UserID == "" {
			renderError(w, r, http.StatusBadRequest, "userId is required")
			return
		}
		if body.Permission != core.PermissionViewer && body.Permission != core.PermissionEditor {
			renderError(w, r, http.StatusBadRequest, "permission must be viewer or editor")
			return
		}

		perm, err := oracle.Check(r.Context(), id, userID)
		if err != nil {
			renderStoreError(w, r, err, "Failed to check permission")
			return
		}
		if perm != core.PermissionOwner {
			renderError(w, r, http.StatusForbidden, "Only the owner can share a document")
			return
		}
		if body.UserID == userID {
			renderError(w, r, http.StatusBadRequest, "The owner cannot share with themselves")
			return
		}

		share := &core.Share{DocumentID: id, UserID: body.UserID, Permission: body.Permission}
		if err := repo.Share(r.Context(), share); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":      err,
				"documentID": id,
			}).Error("Failed to share document")
			renderStoreError(w, r, err, "Failed to share document")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, share)
	}
}

// HandleUpdate changes the title or content of a document. Owners and
// editors may update. A content change is pushed to the document's live
// session when notifier is set.
func HandleUpdate(repo core.DocumentRepository, oracle core.PermissionOracle, notifier ContentNotifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		id := chi.URLParam(r, "id")

		var body DocumentUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			renderError(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if body.Title == nil && body.Content == nil {
			renderError(w, r, http.StatusBadRequest, "title or content is required")
			return
		}

		perm, err := oracle.Check(r.Context(), id, userID)
		if err != nil {
			renderStoreError(w, r, err, "Failed to check permission")
			return
		}
		if !perm.CanWrite() {
			renderError(w, r, http.StatusForbidden, "You do not have permission to edit this document")
			return
		}

		doc, err := repo.Update(r.Context(), id, core.DocumentUpdate{Title: body.Title, Content: body.Content})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":      err,
				"documentID": id,
			}).Error("Failed to update document")
			renderStoreError(w, r, err, "Failed to update document")
			return
		}

		if body.Content != nil && notifier != nil {
			notifier.NotifyContent(id, userID, doc.Content)
		}
		render.JSON(w, r, DocumentResponse{Document: doc, Permission: perm})
	}
}

// HandleDelete removes a document and its shares. Only the owner may delete.
func HandleDelete(repo core.DocumentRepository, oracle core.PermissionOracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		id := chi.URLParam(r, "id")

		perm, err := oracle.Check(r.Context(), id, userID)
		if err != nil {
			renderStoreError(w, r, err, "Failed to check permission")
			return
		}
		if perm != core.PermissionOwner {
			renderError(w, r, http.StatusForbidden, "Only the owner can delete a document")
			return
		}

		if err := repo.Delete(r.Context(), id); err != nil {
			logrus.WithFields(logrus.Fields{
				"error":      err,
				"documentID": id,
			}).Error("Failed to delete document")
			renderStoreError(w, r, err, "Failed to delete document")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleList lists the documents the caller owns and those shared with them.
func HandleList(repo core.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		log := logrus.WithField("userID", userID)

		owned, err := repo.ListOwned(r.Context(), userID)
		if err != nil {
			log.WithField("error", err).Error("Failed to list owned documents")
			renderStoreError(w, r, err, "Failed to list documents")
			return
		}
		shares, err := repo.ListShared(r.Context(), userID)
		if err != nil {
			log.WithField("error", err).Error("Failed to list shared documents")
			renderStoreError(w, r, err, "Failed to list documents")
			return
		}

		response := DocumentListResponse{
			OwnedDocuments:  owned,
			SharedDocuments: make([]SharedDocumentResponse, 0, len(shares)),
		}
		if response.OwnedDocuments == nil {
			response.OwnedDocuments = []*core.Document{}
		}
		for _, share := range shares {
			doc, err := repo.FindID(r.Context(), share.DocumentID)
			if errors.Is(err, core.ErrNotFound) {
				log.WithField("documentID", share.DocumentID).Debug("Skipping share of a missing document")
				continue
			}
			if err != nil {
				renderStoreError(w, r, err, "Failed to list documents")
				return
			}
			response.SharedDocuments = append(response.SharedDocuments, SharedDocumentResponse{
				Document:   doc,
				Permission: share.Permission,
				SharedAt:   share.SharedAt,
			})
		}

		render.JSON(w, r, response)
	}
}
