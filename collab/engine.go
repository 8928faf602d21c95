// Package collab implements the real-time collaboration session manager:
// the session registry, the per-event protocol engine and the connection
// lifecycle that ties a transport to both.
//
// Document content is replicated last-write-wins. Every accepted text-change
// replaces the whole document at the store and is then relayed to peers;
// concurrent editors are not merged. Persist and broadcast of one edit run
// under a per-document lock, so peers receive text-updates in the order the
// store applied them and the last update a peer sees is the stored content.
// Persist and broadcast are not atomic: a crash between the two leaves the
// store updated and peers stale until their next join.
package collab

import (
	"collab-docs/core"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Options tune optional protocol behavior. The zero value matches the
// baseline protocol.
type Options struct {
	// EditTimeout bounds content persistence. Zero means no timeout.
	EditTimeout time.Duration

	// AnnounceLeave emits user-left to the remaining members when a
	// connection leaves or disconnects. The baseline protocol only announces
	// arrivals.
	AnnounceLeave bool
}

// Client is the engine-side state of one connection. Dispatch must not be
// called concurrently for the same Client.
type Client struct {
	peer       Peer
	userID     string
	documentID string
}

func NewClient(peer Peer, userID string) *Client {
	return &Client{peer: peer, userID: userID}
}

func (c *Client) ID() string     { return c.peer.ID() }
func (c *Client) UserID() string { return c.userID }

// DocumentID returns the joined document, or "" while unjoined.
func (c *Client) DocumentID() string { return c.documentID }

func (c *Client) Joined() bool { return c.documentID != "" }

// Engine handles protocol events for all connections.
type Engine struct {
	registry SessionRegistry
	oracle   core.PermissionOracle
	store    core.DocumentStore
	opts     Options
	writes   *documentLocks
}

func NewEngine(registry SessionRegistry, oracle core.PermissionOracle, store core.DocumentStore, opts Options) *Engine {
	return &Engine{
		registry: registry,
		oracle:   oracle,
		store:    store,
		opts:     opts,
		writes:   newDocumentLocks(),
	}
}

// NotifyContent relays content that was stored outside a session, such as
// through the HTTP API, to every member of the document's session. It is
// ordered against session edits only from the moment it is called.
func (e *Engine) NotifyContent(documentID, userID, content string) int {
	unlock := e.writes.lock(documentID)
	defer unlock()
	return e.registry.Broadcast(documentID, "", EventTextUpdate, TextUpdatePayload{
		UserID:  userID,
		Content: content,
	})
}

// Dispatch handles one event for the client. Any failure is reported to the
// client alone as an error event and returned; it never reaches other
// members and never closes the connection.
func (e *Engine) Dispatch(ctx context.Context, c *Client, ev Event) error {
	err := e.handle(ctx, c, ev)
	if err == nil {
		return nil
	}

	kind := KindOf(err)
	logrus.WithFields(logrus.Fields{
		"connection_id": c.ID(),
		"user_id":       c.userID,
		"event":         ev.eventName(),
		"kind":          kind.String(),
	}).WithError(err).Warn("Event rejected")

	if sendErr := c.peer.Send(EventError, errorPayload(err)); sendErr != nil {
		logrus.WithField("connection_id", c.ID()).WithError(sendErr).Debug("Failed to deliver error event")
	}
	return err
}

func (e *Engine) handle(ctx context.Context, c *Client, ev Event) error {
	switch ev := ev.(type) {
	case JoinDocument:
		return e.join(ctx, c, ev)
	case LeaveDocument:
		return e.leaveDocument(c, ev)
	case TextChange:
		return e.textChange(ctx, c, ev)
	case CursorUpdate:
		return e.cursorUpdate(c, ev)
	case UserPresence:
		return e.userPresence(c, ev)
	case Disconnect:
		e.leave(c)
		return nil
	default:
		return protocolViolation("unsupported event %T", ev)
	}
}

func (e *Engine) join(ctx context.Context, c *Client, ev JoinDocument) error {
	if c.Joined() {
		return protocolViolation("already joined document %s", c.documentID)
	}
	if ev.DocumentID == "" {
		return protocolViolation("document id is required")
	}
	if err := c.checkUser(ev.UserID); err != nil {
		return err
	}

	perm, err := e.oracle.Check(ctx, ev.DocumentID, c.userID)
	if err != nil {
		return err
	}
	if !perm.CanRead() {
		return permissionDenied("user %s cannot view document %s", c.userID, ev.DocumentID)
	}

	content, err := e.store.FetchContent(ctx, ev.DocumentID)
	if err != nil {
		return err
	}

	e.registry.Join(ev.DocumentID, c.userID, c.peer)
	c.documentID = ev.DocumentID

	logrus.WithFields(logrus.Fields{
		"document_id":   ev.DocumentID,
		"user_id":       c.userID,
		"connection_id": c.ID(),
		"permission":    perm.String(),
	}).Info("User joined document")

	if err := c.peer.Send(EventDocumentContent, DocumentContentPayload{Content: content}); err != nil {
		logrus.WithField("connection_id", c.ID()).WithError(err).Debug("Failed to deliver document content")
	}
	e.registry.Broadcast(ev.DocumentID, c.ID(), EventUserJoined, UserJoinedPayload{UserID: c.userID})
	return nil
}

func (e *Engine) leaveDocument(c *Client, ev LeaveDocument) error {
	if err := c.requireJoined(ev.DocumentID); err != nil {
		return err
	}
	e.leave(c)
	return nil
}

// leave unregisters the client. It is a no-op for an unjoined client.
func (e *Engine) leave(c *Client) {
	documentID, ok := e.registry.Leave(c.ID())
	c.documentID = ""
	if !ok {
		return
	}

	logrus.WithFields(logrus.Fields{
		"document_id":   documentID,
		"user_id":       c.userID,
		"connection_id": c.ID(),
	}).Info("User left document")

	if e.opts.AnnounceLeave {
		e.registry.Broadcast(documentID, c.ID(), EventUserLeft, UserLeftPayload{UserID: c.userID})
	}
}

func (e *Engine) textChange(ctx context.Context, c *Client, ev TextChange) error {
	if err := c.requireJoined(ev.DocumentID); err != nil {
		return err
	}
	if err := c.checkUser(ev.UserID); err != nil {
		return err
	}

	perm, err := e.oracle.Check(ctx, ev.DocumentID, c.userID)
	if err != nil {
		return err
	}
	if !perm.CanWrite() {
		return permissionDenied("user %s cannot edit document %s", c.userID, ev.DocumentID)
	}

	unlock := e.writes.lock(ev.DocumentID)
	defer unlock()
	if err := e.persist(ctx, ev.DocumentID, ev.Content); err != nil {
		return err
	}

	n := e.registry.Broadcast(ev.DocumentID, c.ID(), EventTextUpdate, TextUpdatePayload{
		UserID:  c.userID,
		Content: ev.Content,
	})
	logrus.WithFields(logrus.Fields{
		"document_id":    ev.DocumentID,
		"user_id":        c.userID,
		"content_length": len(ev.Content),
		"recipients":     n,
	}).Debug("Document content replaced")
	return nil
}

func (e *Engine) persist(ctx context.Context, documentID, content string) error {
	if e.opts.EditTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.EditTimeout)
		defer cancel()
	}

	err := e.store.ReplaceContent(ctx, documentID, content)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("persisting document %s timed out: %w", documentID, core.ErrStoreUnavailable)
	}
	return err
}

func (e *Engine) cursorUpdate(c *Client, ev CursorUpdate) error {
	if err := c.requireJoined(ev.DocumentID); err != nil {
		return err
	}
	if err := c.checkUser(ev.UserID); err != nil {
		return err
	}
	e.registry.Broadcast(ev.DocumentID, c.ID(), EventCursorUpdate, CursorUpdatePayload{
		UserID:   c.userID,
		Position: ev.Position,
	})
	return nil
}

func (e *Engine) userPresence(c *Client, ev UserPresence) error {
	if err := c.requireJoined(ev.DocumentID); err != nil {
		return err
	}
	if err := c.checkUser(ev.UserID); err != nil {
		return err
	}
	e.registry.Broadcast(ev.DocumentID, c.ID(), EventUserPresenceUpdate, UserPresenceUpdatePayload{
		UserID:   c.userID,
		IsActive: ev.IsActive,
	})
	return nil
}

func (c *Client) requireJoined(documentID string) error {
	if !c.Joined() {
		return protocolViolation("document %s was not joined", documentID)
	}
	if c.documentID != documentID {
		return protocolViolation("document %s was not joined (joined %s)", documentID, c.documentID)
	}
	return nil
}

// checkUser rejects payloads that claim a user other than the one
// authenticated at handshake. An empty claim is accepted.
func (c *Client) checkUser(userID string) error {
	if userID != "" && userID != c.userID {
		return protocolViolation("event user %s does not match connection user %s", userID, c.userID)
	}
	return nil
}
