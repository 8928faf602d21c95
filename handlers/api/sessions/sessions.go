package sessions

import (
	"collab-docs/collab"
	"collab-docs/core"
	"collab-docs/middleware"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Lister reports the live sessions. *collab.Registry implements it.
type Lister interface {
	Sessions() []collab.SessionInfo
	MembersOf(documentID string) []collab.Member
}

type MembersResponse struct {
	DocumentID string          `json:"documentId"`
	Members    []collab.Member `json:"members"`
}

// HandleList returns the active sessions on documents the caller can read,
// with their member counts.
func HandleList(sessions Lister, oracle core.PermissionOracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())

		visible := []collab.SessionInfo{}
		for _, session := range sessions.Sessions() {
			perm, err := oracle.Check(r.Context(), session.DocumentID, userID)
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"error":      err,
					"documentID": session.DocumentID,
				}).Error("Failed to check permission")
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, map[string]string{"error": http.StatusText(http.StatusServiceUnavailable)})
				return
			}
			if perm.CanRead() {
				visible = append(visible, session)
			}
		}

		render.JSON(w, r, visible)
	}
}

// HandleMembers returns the connections attached to a document. The caller
// must be able to read the document.
func HandleMembers(sessions Lister, oracle core.PermissionOracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentId")
		userID := middleware.UserID(r.Context())

		perm, err := oracle.Check(r.Context(), documentID, userID)
		if err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, core.ErrNotFound) {
				status = http.StatusNotFound
			} else {
				logrus.WithFields(logrus.Fields{
					"error":      err,
					"documentID": documentID,
				}).Error("Failed to check permission")
			}
			render.Status(r, status)
			render.JSON(w, r, map[string]string{"error": http.StatusText(status)})
			return
		}
		if !perm.CanRead() {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Permission denied"})
			return
		}

		render.JSON(w, r, MembersResponse{DocumentID: documentID, Members: sessions.MembersOf(documentID)})
	}
}
