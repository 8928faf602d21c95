package mongo

import (
	"collab-docs/core"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	documentsCollection = "documents"
	sharesCollection    = "shares"
)

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// shareDoc is the stored form of a share; permissions are kept by name.
type shareDoc struct {
	DocumentID string    `bson:"document_id"`
	UserID     string    `bson:"user_id"`
	Permission string    `bson:"permission"`
	SharedAt   time.Time `bson:"shared_at"`
}

func toShareDoc(share *core.Share) shareDoc {
	return shareDoc{
		DocumentID: share.DocumentID,
		UserID:     share.UserID,
		Permission: share.Permission.String(),
		SharedAt:   share.SharedAt,
	}
}

func (d shareDoc) toShare() (*core.Share, error) {
	permission, err := core.ParsePermission(d.Permission)
	if err != nil {
		return nil, err
	}
	return &core.Share{
		DocumentID: d.DocumentID,
		UserID:     d.UserID,
		Permission: permission,
		SharedAt:   d.SharedAt,
	}, nil
}

// NewStore connects to MongoDB and makes sure the share index exists.
func NewStore(ctx context.Context, uri, database string) (*mongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &mongoStore{client: client, db: client.Database(database)}
	if _, err := s.documents().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create document indexes: %w", err)
	}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	}
	if _, err := s.shares().Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create share indexes: %w", err)
	}
	return s, nil
}

func (s *mongoStore) documents() *mongo.Collection { return s.db.Collection(documentsCollection) }
func (s *mongoStore) shares() *mongo.Collection    { return s.db.Collection(sharesCollection) }

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%s: %v: %w", what, err, core.ErrStoreUnavailable)
}

func (s *mongoStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	err := s.documents().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		logrus.WithField("document_id", id).WithError(err).Error("Failed to retrieve document")
		return nil, unavailable("retrieving document "+id, err)
	}
	return &doc, nil
}

func (s *mongoStore) Create(ctx context.Context, document *core.Document) (string, error) {
	if document.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}

	now := time.Now().UTC()
	doc := *document
	doc.ID = ulid.Make().String()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := s.documents().InsertOne(ctx, &doc); err != nil {
		return "", unavailable("creating document", err)
	}
	logrus.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"owner_id":    doc.OwnerID,
	}).Info("Document created successfully")
	return doc.ID, nil
}

func (s *mongoStore) FetchContent(ctx context.Context, id string) (string, error) {
	var doc struct {
		Content string `bson:"content"`
	}
	opts := options.FindOne().SetProjection(bson.M{"content": 1})
	err := s.documents().FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		return "", unavailable("fetching content of "+id, err)
	}
	return doc.Content, nil
}

func (s *mongoStore) ReplaceContent(ctx context.Context, id, content string) error {
	result, err := s.documents().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"content": content, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to replace content")
		return unavailable("replacing content of "+id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// updateSet builds the $set document for the fields an update names.
func updateSet(update core.DocumentUpdate, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Content != nil {
		set["content"] = *update.Content
	}
	return set
}

func (s *mongoStore) Update(ctx context.Context, id string, update core.DocumentUpdate) (*core.Document, error) {
	var doc core.Document
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.documents().FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": updateSet(update, time.Now().UTC())},
		opts,
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		logrus.WithField("document_id", id).WithError(err).Error("Failed to update document")
		return nil, unavailable("updating document "+id, err)
	}
	return &doc, nil
}

func (s *mongoStore) Delete(ctx context.Context, id string) error {
	result, err := s.documents().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return unavailable("deleting document "+id, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	if _, err := s.shares().DeleteMany(ctx, bson.M{"document_id": id}); err != nil {
		return unavailable("deleting shares of "+id, err)
	}

	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

func (s *mongoStore) ListOwned(ctx context.Context, ownerID string) ([]*core.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.documents().Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, unavailable("listing documents of "+ownerID, err)
	}
	result := []*core.Document{}
	if err := cur.All(ctx, &result); err != nil {
		return nil, unavailable("listing documents of "+ownerID, err)
	}
	return result, nil
}

func (s *mongoStore) Share(ctx context.Context, share *core.Share) error {
	if share.Permission != core.PermissionViewer && share.Permission != core.PermissionEditor {
		return fmt.Errorf("invalid share permission %s", share.Permission)
	}
	if _, err := s.FindID(ctx, share.DocumentID); err != nil {
		return err
	}

	record := toShareDoc(share)
	if record.SharedAt.IsZero() {
		record.SharedAt = time.Now().UTC()
	}
	_, err := s.shares().UpdateOne(ctx,
		bson.M{"document_id": record.DocumentID, "user_id": record.UserID},
		bson.M{"$set": record},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return unavailable("sharing "+share.DocumentID, err)
	}

	logrus.WithFields(logrus.Fields{
		"document_id": share.DocumentID,
		"user_id":     share.UserID,
		"permission":  record.Permission,
	}).Info("Document shared")
	return nil
}

func (s *mongoStore) FindShare(ctx context.Context, documentID, userID string) (*core.Share, error) {
	var record shareDoc
	err := s.shares().FindOne(ctx, bson.M{"document_id": documentID, "user_id": userID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("share of %s for user %s: %w", documentID, userID, core.ErrNotFound)
		}
		return nil, unavailable("finding share of "+documentID, err)
	}
	return record.toShare()
}

func (s *mongoStore) ListShared(ctx context.Context, userID string) ([]*core.Share, error) {
	opts := options.Find().SetSort(bson.D{{Key: "document_id", Value: 1}})
	cur, err := s.shares().Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, unavailable("listing shares of "+userID, err)
	}
	var records []shareDoc
	if err := cur.All(ctx, &records); err != nil {
		return nil, unavailable("listing shares of "+userID, err)
	}

	result := make([]*core.Share, 0, len(records))
	for _, record := range records {
		share, err := record.toShare()
		if err != nil {
			return nil, err
		}
		result = append(result, share)
	}
	return result, nil
}
