package filesystem

import (
	"collab-docs/core"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	documentsDir = "documents"
	sharesDir    = "shares"
)

type fsStore struct {
	basePath string
	// mu guards read-modify-write cycles on document and share files.
	mu sync.Mutex
}

// NewStore creates a new filesystem-based store. Each document is a JSON file
// under documents/, and the shares of a document live in one file under shares/.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{documentsDir, sharesDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			log.Fatalf("failed to create base directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

// path resolves a record file and refuses IDs that would escape dir.
func (s *fsStore) path(dir, id string) (string, error) {
	if id == "" || filepath.Base(id) != id || id == "." || id == ".." || strings.ContainsAny(id, `/\:`) {
		return "", fmt.Errorf("invalid id %q: %w", id, core.ErrNotFound)
	}
	base, err := filepath.Abs(filepath.Join(s.basePath, dir))
	if err != nil {
		return "", err
	}
	full, err := filepath.Abs(filepath.Join(base, id+".json"))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return full, nil
}

func (s *fsStore) readJSON(filePath string, v any) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON replaces filePath atomically so readers never see a partial file.
func (s *fsStore) writeJSON(filePath string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filePath)
}

func (s *fsStore) loadDocument(id string) (*core.Document, error) {
	filePath, err := s.path(documentsDir, id)
	if err != nil {
		return nil, err
	}
	var doc core.Document
	if err := s.readJSON(filePath, &doc); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("reading document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	return &doc, nil
}

func (s *fsStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")

	doc, err := s.loadDocument(id)
	if err != nil {
		log.WithError(err).Debug("Failed to retrieve document")
		return nil, err
	}
	return doc, nil
}

func (s *fsStore) Create(ctx context.Context, document *core.Document) (string, error) {
	if document.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}

	id := ulid.Make().String()
	filePath, err := s.path(documentsDir, id)
	if err != nil {
		return "", err
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"file_path":   filePath,
	})

	now := time.Now().UTC()
	doc := *document
	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeJSON(filePath, &doc); err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}

	log.Info("Document created successfully")
	return id, nil
}

func (s *fsStore) FetchContent(ctx context.Context, id string) (string, error) {
	doc, err := s.loadDocument(id)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

func (s *fsStore) ReplaceContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDocument(id)
	if err != nil {
		return err
	}
	doc.Content = content
	doc.UpdatedAt = time.Now().UTC()

	filePath, _ := s.path(documentsDir, id)
	if err := s.writeJSON(filePath, doc); err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to write document file")
		return fmt.Errorf("writing document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	return nil
}

func (s *fsStore) Update(ctx context.Context, id string, update core.DocumentUpdate) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadDocument(id)
	if err != nil {
		return nil, err
	}
	update.Apply(doc)
	doc.UpdatedAt = time.Now().UTC()

	filePath, _ := s.path(documentsDir, id)
	if err := s.writeJSON(filePath, doc); err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to write document file")
		return nil, fmt.Errorf("writing document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}
	return doc, nil
}

func (s *fsStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath, err := s.path(documentsDir, id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		return fmt.Errorf("deleting document %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}

	sharesPath, _ := s.path(sharesDir, id)
	if err := os.Remove(sharesPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting shares of %s: %v: %w", id, err, core.ErrStoreUnavailable)
	}

	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

func (s *fsStore) ListOwned(ctx context.Context, ownerID string) ([]*core.Document, error) {
	dir := filepath.Join(s.basePath, documentsDir)
	log := logrus.WithField("owner_id", ownerID).WithField("path", dir)

	files, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Error("Failed to read documents directory")
		return nil, fmt.Errorf("listing documents: %v: %w", err, core.ErrStoreUnavailable)
	}

	result := []*core.Document{}
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		doc, err := s.loadDocument(strings.TrimSuffix(name, ".json"))
		if err != nil {
			log.WithError(err).Warnf("Failed to read document file %s, skipping", name)
			continue
		}
		if doc.OwnerID == ownerID {
			result = append(result, doc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// loadShares returns the shares of a document keyed by user ID.
func (s *fsStore) loadShares(documentID string) (map[string]core.Share, error) {
	filePath, err := s.path(sharesDir, documentID)
	if err != nil {
		return nil, err
	}
	shares := map[string]core.Share{}
	if err := s.readJSON(filePath, &shares); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading shares of %s: %v: %w", documentID, err, core.ErrStoreUnavailable)
	}
	return shares, nil
}

func (s *fsStore) Share(ctx context.Context, share *core.Share) error {
	if share.Permission != core.PermissionViewer && share.Permission != core.PermissionEditor {
		return fmt.Errorf("invalid share permission %s", share.Permission)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.loadDocument(share.DocumentID); err != nil {
		return err
	}
	shares, err := s.loadShares(share.DocumentID)
	if err != nil {
		return err
	}
	record := *share
	if record.SharedAt.IsZero() {
		record.SharedAt = time.Now().UTC()
	}
	shares[share.UserID] = record

	filePath, _ := s.path(sharesDir, share.DocumentID)
	if err := s.writeJSON(filePath, shares); err != nil {
		return fmt.Errorf("writing shares of %s: %v: %w", share.DocumentID, err, core.ErrStoreUnavailable)
	}

	logrus.WithFields(logrus.Fields{
		"document_id": share.DocumentID,
		"user_id":     share.UserID,
		"permission":  share.Permission.String(),
	}).Info("Document shared")
	return nil
}

func (s *fsStore) FindShare(ctx context.Context, documentID, userID string) (*core.Share, error) {
	shares, err := s.loadShares(documentID)
	if err != nil {
		return nil, err
	}
	share, ok := shares[userID]
	if !ok {
		return nil, fmt.Errorf("share of %s for user %s: %w", documentID, userID, core.ErrNotFound)
	}
	return &share, nil
}

func (s *fsStore) ListShared(ctx context.Context, userID string) ([]*core.Share, error) {
	dir := filepath.Join(s.basePath, sharesDir)
	log := logrus.WithField("user_id", userID).WithField("path", dir)

	files, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Error("Failed to read shares directory")
		return nil, err
	}

	result := []*core.Share{}
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		shares, err := s.loadShares(strings.TrimSuffix(name, ".json"))
		if err != nil {
			log.WithError(err).Warnf("Failed to read share file %s, skipping", name)
			continue
		}
		if share, ok := shares[userID]; ok {
			result = append(result, &share)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocumentID < result[j].DocumentID
	})
	return result, nil
}
