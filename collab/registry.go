package collab

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

type (
	// Peer is the outbound side of a connection. Send must not block.
	Peer interface {
		ID() string
		Send(event string, payload any) error
	}

	// Member is one connection attached to a document session.
	Member struct {
		ConnectionID string `json:"connectionId"`
		UserID       string `json:"userId"`
	}

	// SessionInfo summarizes one active document session.
	SessionInfo struct {
		DocumentID string `json:"documentId"`
		Members    int    `json:"members"`
	}

	// SessionRegistry tracks which connections are attached to which
	// document and fans events out to them.
	SessionRegistry interface {
		Join(documentID, userID string, peer Peer)
		Leave(connectionID string) (documentID string, ok bool)
		Broadcast(documentID, excludeConnectionID, event string, payload any) int
		MembersOf(documentID string) []Member
	}
)

type member struct {
	userID string
	peer   Peer
}

// Registry is the in-process SessionRegistry. Membership changes are
// serialized by a single lock; broadcasts deliver outside of it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]member
	joined   map[string]string
}

var _ SessionRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]member),
		joined:   make(map[string]string),
	}
}

// Join adds the connection to the document's session, creating the session if
// absent. A connection already attached to another document is moved.
func (r *Registry) Join(documentID, userID string, peer Peer) {
	connID := peer.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.joined[connID]; ok && previous != documentID {
		r.removeLocked(previous, connID)
	}

	members, ok := r.sessions[documentID]
	if !ok {
		members = make(map[string]member)
		r.sessions[documentID] = members
	}
	members[connID] = member{userID: userID, peer: peer}
	r.joined[connID] = documentID

	logrus.WithFields(logrus.Fields{
		"document_id":   documentID,
		"connection_id": connID,
		"user_id":       userID,
		"members":       len(members),
	}).Debug("Connection joined session")
}

// Leave detaches the connection from whichever session holds it. Leaving
// twice, or without having joined, is a no-op.
func (r *Registry) Leave(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	documentID, ok := r.joined[connectionID]
	if !ok {
		return "", false
	}
	r.removeLocked(documentID, connectionID)

	logrus.WithFields(logrus.Fields{
		"document_id":   documentID,
		"connection_id": connectionID,
	}).Debug("Connection left session")
	return documentID, true
}

func (r *Registry) removeLocked(documentID, connectionID string) {
	delete(r.joined, connectionID)
	members, ok := r.sessions[documentID]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.sessions, documentID)
	}
}

// Broadcast sends the event to every member of the document's session except
// excludeConnectionID and returns the number of members it was handed to.
func (r *Registry) Broadcast(documentID, excludeConnectionID, event string, payload any) int {
	r.mu.RLock()
	members := r.sessions[documentID]
	peers := make([]Peer, 0, len(members))
	for connID, m := range members {
		if connID != excludeConnectionID {
			peers = append(peers, m.peer)
		}
	}
	r.mu.RUnlock()

	for _, p := range peers {
		if err := p.Send(event, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"document_id":   documentID,
				"connection_id": p.ID(),
				"event":         event,
			}).WithError(err).Debug("Dropped broadcast to peer")
		}
	}
	return len(peers)
}

// MembersOf returns a snapshot of the document's session ordered by
// connection ID.
func (r *Registry) MembersOf(documentID string) []Member {
	r.mu.RLock()
	members := r.sessions[documentID]
	result := make([]Member, 0, len(members))
	for connID, m := range members {
		result = append(result, Member{ConnectionID: connID, UserID: m.userID})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConnectionID < result[j].ConnectionID
	})
	return result
}

// Sessions lists the active sessions, busiest first.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	result := make([]SessionInfo, 0, len(r.sessions))
	for documentID, members := range r.sessions {
		result = append(result, SessionInfo{DocumentID: documentID, Members: len(members)})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Members == result[j].Members {
			return result[i].DocumentID < result[j].DocumentID
		}
		return result[i].Members > result[j].Members
	})
	return result
}

// DocumentOf reports which document a connection is attached to.
func (r *Registry) DocumentOf(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	documentID, ok := r.joined[connectionID]
	return documentID, ok
}
