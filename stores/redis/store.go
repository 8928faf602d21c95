package redis

import (
	"collab-docs/core"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultKeyPrefix = "collab:"

// redisStore keeps each document in a hash, the shares of a document in a hash of
// JSON records keyed by user, and index sets of owned and shared documents per
// user.
type redisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewStore(ctx context.Context, url, keyPrefix string) (*redisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	cl := redis.NewClient(opts)
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &redisStore{client: cl, keyPrefix: keyPrefix}, nil
}

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) documentKey(id string) string       { return s.keyPrefix + "doc:" + id }
func (s *redisStore) sharesKey(documentID string) string { return s.keyPrefix + "shares:" + documentID }
func (s *redisStore) userSharesKey(userID string) string { return s.keyPrefix + "user-shares:" + userID }
func (s *redisStore) ownedKey(ownerID string) string     { return s.keyPrefix + "owned:" + ownerID }

func unavailable(what string, err error) error {
	return fmt.Errorf("%s: %v: %w", what, err, core.ErrStoreUnavailable)
}

func (s *redisStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	fields, err := s.client.HGetAll(ctx, s.documentKey(id)).Result()
	if err != nil {
		return nil, unavailable("retrieving document "+id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}

	doc := &core.Document{
		ID:      id,
		Title:   fields["title"],
		Content: fields["content"],
		OwnerID: fields["owner_id"],
	}
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return doc, nil
}

func (s *redisStore) Create(ctx context.Context, document *core.Document) (string, error) {
	if document.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}

	id := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.documentKey(id),
			"title", document.Title,
			"content", document.Content,
			"owner_id", document.OwnerID,
			"created_at", now,
			"updated_at", now,
		)
		pipe.SAdd(ctx, s.ownedKey(document.OwnerID), id)
		return nil
	})
	if err != nil {
		return "", unavailable("creating document", err)
	}
	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"owner_id":    document.OwnerID,
	}).Info("Document created successfully")
	return id, nil
}

func (s *redisStore) FetchContent(ctx context.Context, id string) (string, error) {
	content, err := s.client.HGet(ctx, s.documentKey(id), "content").Result()
	if err != nil {
		if err == redis.Nil {
			return "", fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
		}
		return "", unavailable("fetching content of "+id, err)
	}
	return content, nil
}

var replaceScript = redis.NewScript(`
local doc = KEYS[1]
if redis.call('EXISTS', doc) == 1 then
  redis.call('HSET', doc, 'content', ARGV[1], 'updated_at', ARGV[2])
  return 1
end
return 0
`)

func (s *redisStore) ReplaceContent(ctx context.Context, id, content string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := replaceScript.Run(ctx, s.client, []string{s.documentKey(id)}, content, now).Int()
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to replace content")
		return unavailable("replacing content of "+id, err)
	}
	if res == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	return nil
}

var updateScript = redis.NewScript(`
local doc = KEYS[1]
if redis.call('EXISTS', doc) == 0 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', doc, ARGV[i], ARGV[i + 1])
end
return 1
`)

// updateArgs flattens an update into field/value pairs for updateScript.
func updateArgs(update core.DocumentUpdate, now time.Time) []any {
	args := []any{"updated_at", now.Format(time.RFC3339Nano)}
	if update.Title != nil {
		args = append(args, "title", *update.Title)
	}
	if update.Content != nil {
		args = append(args, "content", *update.Content)
	}
	return args
}

func (s *redisStore) Update(ctx context.Context, id string, update core.DocumentUpdate) (*core.Document, error) {
	args := updateArgs(update, time.Now().UTC())
	res, err := updateScript.Run(ctx, s.client, []string{s.documentKey(id)}, args...).Int()
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to update document")
		return nil, unavailable("updating document "+id, err)
	}
	if res == 0 {
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}
	return s.FindID(ctx, id)
}

// deleteScript removes a document, its shares and its index entries. Index
// keys are derived from the prefixes in ARGV, so it needs a single-node
// deployment.
var deleteScript = redis.NewScript(`
local doc, shares = KEYS[1], KEYS[2]
if redis.call('EXISTS', doc) == 0 then
  return 0
end
local owner = redis.call('HGET', doc, 'owner_id')
for _, user in ipairs(redis.call('HKEYS', shares)) do
  redis.call('SREM', ARGV[1] .. user, ARGV[3])
end
if owner then
  redis.call('SREM', ARGV[2] .. owner, ARGV[3])
end
redis.call('DEL', doc, shares)
return 1
`)

func (s *redisStore) Delete(ctx context.Context, id string) error {
	res, err := deleteScript.Run(ctx, s.client,
		[]string{s.documentKey(id), s.sharesKey(id)},
		s.userSharesKey(""), s.ownedKey(""), id,
	).Int()
	if err != nil {
		return unavailable("deleting document "+id, err)
	}
	if res == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrNotFound)
	}

	logrus.WithField("document_id", id).Info("Document deleted")
	return nil
}

func (s *redisStore) ListOwned(ctx context.Context, ownerID string) ([]*core.Document, error) {
	ids, err := s.client.SMembers(ctx, s.ownedKey(ownerID)).Result()
	if err != nil {
		return nil, unavailable("listing documents of "+ownerID, err)
	}
	sort.Strings(ids)

	result := make([]*core.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.FindID(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, nil
}

func (s *redisStore) Share(ctx context.Context, share *core.Share) error {
	if share.Permission != core.PermissionViewer && share.Permission != core.PermissionEditor {
		return fmt.Errorf("invalid share permission %s", share.Permission)
	}
	exists, err := s.client.Exists(ctx, s.documentKey(share.DocumentID)).Result()
	if err != nil {
		return unavailable("sharing "+share.DocumentID, err)
	}
	if exists == 0 {
		return fmt.Errorf("document with id %s: %w", share.DocumentID, core.ErrNotFound)
	}

	record := *share
	if record.SharedAt.IsZero() {
		record.SharedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.sharesKey(share.DocumentID), share.UserID, data)
		pipe.SAdd(ctx, s.userSharesKey(share.UserID), share.DocumentID)
		return nil
	})
	if err != nil {
		return unavailable("sharing "+share.DocumentID, err)
	}

	logrus.WithFields(logrus.Fields{
		"document_id": share.DocumentID,
		"user_id":     share.UserID,
		"permission":  share.Permission.String(),
	}).Info("Document shared")
	return nil
}

func (s *redisStore) FindShare(ctx context.Context, documentID, userID string) (*core.Share, error) {
	data, err := s.client.HGet(ctx, s.sharesKey(documentID), userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("share of %s for user %s: %w", documentID, userID, core.ErrNotFound)
		}
		return nil, unavailable("finding share of "+documentID, err)
	}
	var share core.Share
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, fmt.Errorf("decoding share of %s: %w", documentID, err)
	}
	return &share, nil
}

func (s *redisStore) ListShared(ctx context.Context, userID string) ([]*core.Share, error) {
	documentIDs, err := s.client.SMembers(ctx, s.userSharesKey(userID)).Result()
	if err != nil {
		return nil, unavailable("listing shares of "+userID, err)
	}
	sort.Strings(documentIDs)

	result := make([]*core.Share, 0, len(documentIDs))
	for _, documentID := range documentIDs {
		share, err := s.FindShare(ctx, documentID, userID)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, share)
	}
	return result, nil
}
