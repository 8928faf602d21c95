package aws

import (
	"bytes"
	"collab-docs/core"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	documentsPrefix = "documents/"
	sharesPrefix    = "shares/"
)

type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store. Documents are stored as JSON
// objects under documents/ and shares under shares/<documentID>/<userID>.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName)
}

func NewStoreWithClient(client *s3.Client, bucketName string) *s3Store {
	return &s3Store{
		s3Client: client,
		bucket:   bucketName,
	}
}

// validID rejects IDs that would escape their key prefix.
func validID(id string) error {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return fmt.Errorf("invalid id %q: %w", id, core.ErrNotFound)
	}
	return nil
}

func documentKey(id string) string {
	return documentsPrefix + id + ".json"
}

func shareKey(documentID, userID string) string {
	return sharesPrefix + documentID + "/" + userID + ".json"
}

// classify maps S3 failures onto the core error kinds.
func classify(err error, what string) error {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	return fmt.Errorf("%s: %v: %w", what, err, core.ErrStoreUnavailable)
}

func (s *s3Store) getJSON(ctx context.Context, key string, v any) error {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read object data: %v", err)
	}
	return json.Unmarshal(data, v)
}

func (s *s3Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *s3Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var doc core.Document
	if err := s.getJSON(ctx, documentKey(id), &doc); err != nil {
		return nil, classify(err, "document with id "+id)
	}
	return &doc, nil
}

func (s *s3Store) Create(ctx context.Context, document *core.Document) (string, error) {
	if document.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}

	now := time.Now().UTC()
	doc := *document
	doc.ID = ulid.Make().String()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err := s.putJSON(ctx, documentKey(doc.ID), &doc); err != nil {
		return "", fmt.Errorf("failed to upload document: %v", err)
	}
	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"owner_id":    doc.OwnerID,
	}).Info("Document created successfully")
	return doc.ID, nil
}

func (s *s3Store) FetchContent(ctx context.Context, id string) (string, error) {
	doc, err := s.FindID(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// ReplaceContent rewrites the document object. Concurrent replacements race
// and the last PutObject wins.
func (s *s3Store) ReplaceContent(ctx context.Context, id, content string) error {
	doc, err := s.FindID(ctx, id)
	if err != nil {
		return err
	}
	doc.Content = content
	doc.UpdatedAt = time.Now().UTC()

	if err := s.putJSON(ctx, documentKey(id), doc); err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to replace content")
		return classify(err, "replacing content of "+id)
	}
	return nil
}

func (s *s3Store) Update(ctx context.Context, id string, update core.DocumentUpdate) (*core.Document, error) {
	doc, err := s.FindID(ctx, id)
	if err != nil {
		return nil, err
	}
	update.Apply(doc)
	doc.UpdatedAt = time.Now().UTC()

	if err := s.putJSON(ctx, documentKey(id), doc); err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to update document")
		return nil, classify(err, "updating document "+id)
	}
	return doc, nil
}

// Delete removes the document object and every share object under its
// prefix. S3 does not report missing keys on delete, so existence is checked
// first.
func (s *s3Store) Delete(ctx context.Context, id string) error {
	if _, err := s.FindID(ctx, id); err != nil {
		return err
	}
	if err := s.deleteKey(ctx, documentKey(id)); err != nil {
		return classify(err, "deleting document "+id)
	}

	keys, err := s.listKeys(ctx, sharesPrefix+id+"/")
	if err != nil {
		return classify(err, "listing shares of "+id)
	}
	for _, key := range keys {
		if err := s.deleteKey(ctx, key); err != nil {
			return classify(err, "deleting share "+key)
		}
	}

	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"shares":      len(keys),
	}).Info("Document deleted")
	return nil
}

func (s *s3Store) ListOwned(ctx context.Context, ownerID string) ([]*core.Document, error) {
	keys, err := s.listKeys(ctx, documentsPrefix)
	if err != nil {
		return nil, classify(err, "listing documents of "+ownerID)
	}

	result := []*core.Document{}
	for _, key := range keys {
		var doc core.Document
		if err := s.getJSON(ctx, key, &doc); err != nil {
			logrus.WithError(err).Warnf("Failed to read document %s, skipping", key)
			continue
		}
		if doc.OwnerID == ownerID {
			result = append(result, &doc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *s3Store) deleteKey(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *s3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
	}
	return keys, nil
}

func (s *s3Store) Share(ctx context.Context, share *core.Share) error {
	if share.Permission != core.PermissionViewer && share.Permission != core.PermissionEditor {
		return fmt.Errorf("invalid share permission %s", share.Permission)
	}
	if err := validID(share.UserID); err != nil {
		return fmt.Errorf("invalid user id %q", share.UserID)
	}
	if _, err := s.FindID(ctx, share.DocumentID); err != nil {
		return err
	}

	record := *share
	if record.SharedAt.IsZero() {
		record.SharedAt = time.Now().UTC()
	}
	if err := s.putJSON(ctx, shareKey(share.DocumentID, share.UserID), &record); err != nil {
		return classify(err, "sharing "+share.DocumentID)
	}

	logrus.WithFields(logrus.Fields{
		"document_id": share.DocumentID,
		"user_id":     share.UserID,
		"permission":  share.Permission.String(),
	}).Info("Document shared")
	return nil
}

func (s *s3Store) FindShare(ctx context.Context, documentID, userID string) (*core.Share, error) {
	if validID(documentID) != nil || validID(userID) != nil {
		return nil, fmt.Errorf("share of %s for user %s: %w", documentID, userID, core.ErrNotFound)
	}
	var share core.Share
	if err := s.getJSON(ctx, shareKey(documentID, userID), &share); err != nil {
		return nil, classify(err, fmt.Sprintf("share of %s for user %s", documentID, userID))
	}
	return &share, nil
}

func (s *s3Store) ListShared(ctx context.Context, userID string) ([]*core.Share, error) {
	if err := validID(userID); err != nil {
		return []*core.Share{}, nil
	}
	suffix := "/" + userID + ".json"

	keys, err := s.listKeys(ctx, sharesPrefix)
	if err != nil {
		return nil, classify(err, "listing shares of user "+userID)
	}
	result := []*core.Share{}
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		var share core.Share
		if err := s.getJSON(ctx, key, &share); err != nil {
			logrus.WithError(err).Warnf("Failed to read share %s, skipping", key)
			continue
		}
		result = append(result, &share)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocumentID < result[j].DocumentID
	})
	return result, nil
}
