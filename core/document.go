package core

import (
	"context"
	"time"
)

type (
	// Document is a collaboratively edited text document. The store is the
	// single source of truth for its content at rest.
	Document struct {
		ID        string    `json:"id" bson:"_id"`
		Title     string    `json:"title" bson:"title"`
		Content   string    `json:"content" bson:"content"`
		OwnerID   string    `json:"ownerId" bson:"owner_id"`
		CreatedAt time.Time `json:"createdAt" bson:"created_at"`
		UpdatedAt time.Time `json:"updatedAt" bson:"updated_at"`
	}

	// Share grants a user access to a document they do not own.
	Share struct {
		DocumentID string     `json:"documentId" bson:"document_id"`
		UserID     string     `json:"userId" bson:"user_id"`
		Permission Permission `json:"permission" bson:"permission"`
		SharedAt   time.Time  `json:"sharedAt" bson:"shared_at"`
	}

	// DocumentUpdate names the fields to change. A nil field is left as is.
	DocumentUpdate struct {
		Title   *string
		Content *string
	}

	// DocumentStore fetches and persists document content by ID.
	DocumentStore interface {
		// FetchContent returns the current content. Fails with ErrNotFound.
		FetchContent(ctx context.Context, id string) (string, error)

		// ReplaceContent overwrites the whole content of an existing document.
		// There is no merge: the last successful call wins.
		// Fails with ErrNotFound or ErrStoreUnavailable.
		ReplaceContent(ctx context.Context, id, content string) error
	}

	// DocumentRepository is the record-level CRUD surface backing the HTTP API
	// and the permission oracle.
	DocumentRepository interface {
		Create(ctx context.Context, document *Document) (string, error)
		FindID(ctx context.Context, id string) (*Document, error)

		// Update applies the non-nil fields of update and returns the
		// resulting document. Fails with ErrNotFound.
		Update(ctx context.Context, id string, update DocumentUpdate) (*Document, error)

		// Delete removes a document together with its share records.
		// Fails with ErrNotFound.
		Delete(ctx context.Context, id string) error

		// ListOwned returns the documents owned by a user ordered by ID.
		ListOwned(ctx context.Context, ownerID string) ([]*Document, error)

		// Share creates or updates the share record for (DocumentID, UserID).
		Share(ctx context.Context, share *Share) error

		// FindShare returns ErrNotFound when the user has no share record.
		FindShare(ctx context.Context, documentID, userID string) (*Share, error)

		// ListShared returns the share records granted to a user.
		ListShared(ctx context.Context, userID string) ([]*Share, error)
	}

	// PermissionOracle answers what a user may do with a document.
	PermissionOracle interface {
		// Check fails with ErrNotFound when the document is unknown.
		Check(ctx context.Context, documentID, userID string) (Permission, error)
	}
)

// Apply copies the set fields of u onto doc. It does not touch UpdatedAt.
func (u DocumentUpdate) Apply(doc *Document) {
	if u.Title != nil {
		doc.Title = *u.Title
	}
	if u.Content != nil {
		doc.Content = *u.Content
	}
}
