package sqlite

import (
	"collab-docs/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}
	// A single writer keeps concurrent edits from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	docTableStmt := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT,
		content TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	);`
	if _, err = db.Exec(docTableStmt); err != nil {
		log.Fatalf("failed to create documents table: %v", err)
	}

	shareTableStmt := `
	CREATE TABLE IF NOT EXISTS shares (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		permission TEXT NOT NULL,
		shared_at DATETIME,
		PRIMARY KEY (document_id, user_id)
	);`
	if _, err = db.Exec(shareTableStmt); err != nil {
		log.Fatalf("failed to create shares table: %v", err)
	}

	return &sqliteStore{db}
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")

	doc := core.Document{ID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT title, content, owner_id, created_at, updated_at FROM documents WHERE id = ?", id,
	).Scan(&doc.Title, &doc.Content, &doc.OwnerID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, fmt.Errorf("retrieving document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	return &doc, nil
}

func (s *sqliteStore) Create(ctx context.Context, document *core.Document) (string, error) {
	if document.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}

	id := ulid.Make().String()
	now := time.Now().UTC()
	log := logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"owner_id":       document.OwnerID,
		"content_length": len(document.Content),
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, title, content, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, document.Title, document.Content, document.OwnerID, now, now)
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created successfully")
	return id, nil
}

func (s *sqliteStore) FetchContent(ctx context.Context, id string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, "SELECT content FROM documents WHERE id = ?", id).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		return "", fmt.Errorf("fetching content of %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	return content, nil
}

func (s *sqliteStore) ReplaceContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET content = ?, updated_at = ? WHERE id = ?", content, time.Now().UTC(), id)
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to replace content")
		return fmt.Errorf("replacing content of %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("replacing content of %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	if n == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) Update(ctx context.Context, id string, update core.DocumentUpdate) (*core.Document, error) {
	doc, err := s.FindID(ctx, id)
	if err != nil {
		return nil, err
	}
	update.Apply(doc)
	doc.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET title = ?, content = ?, updated_at = ? WHERE id = ?",
		doc.Title, doc.Content, doc.UpdatedAt, id)
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to update document")
		return nil, fmt.Errorf("updating document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	return doc, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleting document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	// Foreign keys are not enforced unless enabled per connection.
	if _, err := tx.ExecContext(ctx, "DELETE FROM shares WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("deleting shares of %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("deleting document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}

	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

func (s *sqliteStore) ListOwned(ctx context.Context, ownerID string) ([]*core.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, content, created_at, updated_at FROM documents WHERE owner_id = ? ORDER BY id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing documents of %s: %v: %w", ownerID, err, core.ErrStoreUnavailable)
	}
	defer rows.Close()

	docs := []*core.Document{}
	for rows.Next() {
		doc := core.Document{OwnerID: ownerID}
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *sqliteStore) Share(ctx context.Context, share *core.Share) error {
	if share.Permission != core.PermissionViewer && share.Permission != core.PermissionEditor {
		return fmt.Errorf("invalid share permission %s", share.Permission)
	}
	if _, err := s.FindID(ctx, share.DocumentID); err != nil {
		return err
	}

	sharedAt := share.SharedAt
	if sharedAt.IsZero() {
		sharedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shares (document_id, user_id, permission, shared_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (document_id, user_id) DO UPDATE SET permission = excluded.permission, shared_at = excluded.shared_at`,
		share.DocumentID, share.UserID, share.Permission.String(), sharedAt)
	if err != nil {
		return fmt.Errorf("sharing %s: %v: %w", share.DocumentID, err, core.ErrStoreUnavailable)
	}
	logrus.WithFields(logrus.Fields{
		"document_id": share.DocumentID,
		"user_id":     share.UserID,
		"permission":  share.Permission.String(),
	}).Info("Document shared")
	return nil
}

func (s *sqliteStore) FindShare(ctx context.Context, documentID, userID string) (*core.Share, error) {
	share := core.Share{DocumentID: documentID, UserID: userID}
	var permission string
	err := s.db.QueryRowContext(ctx,
		"SELECT permission, shared_at FROM shares WHERE document_id = ? AND user_id = ?", documentID, userID,
	).Scan(&permission, &share.SharedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("share of %s for user %s: %w", documentID, userID, core.ErrNotFound)
		}
		return nil, fmt.Errorf("finding share of %s: %v: %w", documentID, err, core.ErrStoreUnavailable)
	}
	if share.Permission, err = core.ParsePermission(permission); err != nil {
		return nil, err
	}
	return &share, nil
}

func (s *sqliteStore) ListShared(ctx context.Context, userID string) ([]*core.Share, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT document_id, permission, shared_at FROM shares WHERE user_id = ? ORDER BY document_id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := []*core.Share{}
	for rows.Next() {
		share := core.Share{UserID: userID}
		var permission string
		if err := rows.Scan(&share.DocumentID, &permission, &share.SharedAt); err != nil {
			return nil, err
		}
		if share.Permission, err = core.ParsePermission(permission); err != nil {
			return nil, err
		}
		shares = append(shares, &share)
	}
	return shares, rows.Err()
}
