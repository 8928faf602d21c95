// Package permissions decides what a user may do with a document.
package permissions

import (
	"collab-docs/core"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Oracle resolves access from the document owner and its share records.
type Oracle struct {
	repo core.DocumentRepository
}

var _ core.PermissionOracle = (*Oracle)(nil)

func NewOracle(repo core.DocumentRepository) *Oracle {
	return &Oracle{repo: repo}
}

// Check returns PermissionOwner for the owner, the shared level for users with
// a share record and PermissionNone otherwise. An unknown document fails with
// core.ErrNotFound.
func (o *Oracle) Check(ctx context.Context, documentID, userID string) (core.Permission, error) {
	log := logrus.WithFields(logrus.Fields{"document_id": documentID, "user_id": userID})

	if userID == "" {
		return core.PermissionNone, fmt.Errorf("user id is required: %w", core.ErrNotFound)
	}

	doc, err := o.repo.FindID(ctx, documentID)
	if err != nil {
		log.WithError(err).Debug("Permission check failed to load document")
		return core.PermissionNone, err
	}
	if doc.OwnerID == userID {
		return core.PermissionOwner, nil
	}

	share, err := o.repo.FindShare(ctx, documentID, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.PermissionNone, nil
		}
		log.WithError(err).Warn("Permission check failed to load share")
		return core.PermissionNone, err
	}
	return share.Permission, nil
}
