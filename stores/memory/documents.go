package memory

import (
	"collab-docs/core"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	mu        sync.RWMutex
	documents map[string]core.Document
	// shares is keyed by document ID, then user ID.
	shares map[string]map[string]core.Share
}

// NewStore creates an in-memory store. Contents are lost on restart.
func NewStore() *documentStore {
	return &documentStore{
		documents: make(map[string]core.Document),
		shares:    make(map[string]map[string]core.Share),
	}
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	doc, ok := s.documents[id]
	s.mu.RUnlock()

	if !ok {
		log.Debug("Document with specified ID not found")
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	return &doc, nil
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	if document.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}

	id := ulid.Make().String()
	now := time.Now()

	s.mu.Lock()
	doc := *document
	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now
	s.documents[id] = doc
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"owner_id":       doc.OwnerID,
		"content_length": len(doc.Content),
	}).Info("Document created successfully")
	return id, nil
}

func (s *documentStore) FetchContent(ctx context.Context, id string) (string, error) {
	doc, err := s.FindID(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

func (s *documentStore) ReplaceContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	s.documents[id] = doc
	return nil
}

func (s *documentStore) Update(ctx context.Context, id string, update core.DocumentUpdate) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	update.Apply(&doc)
	doc.UpdatedAt = time.Now()
	s.documents[id] = doc
	return &doc, nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	delete(s.documents, id)
	delete(s.shares, id)

	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

func (s *documentStore) ListOwned(ctx context.Context, ownerID string) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*core.Document{}
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			result = append(result, &doc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *documentStore) Share(ctx context.Context, share *core.Share) error {
	if share.Permission != core.PermissionViewer && share.Permission != core.PermissionEditor {
		return fmt.Errorf("invalid share permission %s", share.Permission)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[share.DocumentID]; !ok {
		return fmt.Errorf("document with id %s: %w", share.DocumentID, core.ErrNotFound)
	}
	users, ok := s.shares[share.DocumentID]
	if !ok {
		users = make(map[string]core.Share)
		s.shares[share.DocumentID] = users
	}
	record := *share
	if record.SharedAt.IsZero() {
		record.SharedAt = time.Now()
	}
	users[share.UserID] = record

	logrus.WithFields(logrus.Fields{
		"document_id": share.DocumentID,
		"user_id":     share.UserID,
		"permission":  share.Permission.String(),
	}).Info("Document shared")
	return nil
}

func (s *documentStore) FindShare(ctx context.Context, documentID, userID string) (*core.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	share, ok := s.shares[documentID][userID]
	if !ok {
		return nil, fmt.Errorf("share of %s for user %s: %w", documentID, userID, core.ErrNotFound)
	}
	return &share, nil
}

func (s *documentStore) ListShared(ctx context.Context, userID string) ([]*core.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*core.Share{}
	for _, users := range s.shares {
		if share, ok := users[userID]; ok {
			result = append(result, &share)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocumentID < result[j].DocumentID
	})
	return result, nil
}
