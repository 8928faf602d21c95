package collab

// Inbound event names accepted from clients.
const (
	EventJoinDocument  = "join-document"
	EventLeaveDocument = "leave-document"
	EventTextChange    = "text-change"
	EventCursorUpdate  = "cursor-update"
	EventUserPresence  = "user-presence"
)

// Outbound event names emitted to clients.
const (
	EventDocumentContent    = "document-content"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventTextUpdate         = "text-update"
	EventUserPresenceUpdate = "user-presence-update"
	EventError              = "error"
)

// Event is one inbound protocol event. The set of implementations is closed:
// Engine.Dispatch handles every kind below.
type Event interface {
	eventName() string
}

type (
	JoinDocument struct {
		DocumentID string `mapstructure:"documentId"`
		UserID     string `mapstructure:"userId"`
	}

	LeaveDocument struct {
		DocumentID string `mapstructure:"documentId"`
	}

	TextChange struct {
		DocumentID string `mapstructure:"documentId"`
		UserID     string `mapstructure:"userId"`
		Content    string `mapstructure:"content"`
	}

	CursorUpdate struct {
		DocumentID string `mapstructure:"documentId"`
		UserID     string `mapstructure:"userId"`
		Position   any    `mapstructure:"position"`
	}

	UserPresence struct {
		DocumentID string `mapstructure:"documentId"`
		UserID     string `mapstructure:"userId"`
		IsActive   bool   `mapstructure:"isActive"`
	}

	// Disconnect is produced by the connection lifecycle when the transport
	// goes away. Clients cannot send it.
	Disconnect struct{}
)

func (JoinDocument) eventName() string  { return EventJoinDocument }
func (LeaveDocument) eventName() string { return EventLeaveDocument }
func (TextChange) eventName() string    { return EventTextChange }
func (CursorUpdate) eventName() string  { return EventCursorUpdate }
func (UserPresence) eventName() string  { return EventUserPresence }
func (Disconnect) eventName() string    { return "disconnect" }

// EventName returns the wire name of an inbound event.
func EventName(ev Event) string { return ev.eventName() }

// Outbound payloads.
type (
	DocumentContentPayload struct {
		Content string `json:"content"`
	}

	UserJoinedPayload struct {
		UserID string `json:"userId"`
	}

	UserLeftPayload struct {
		UserID string `json:"userId"`
	}

	TextUpdatePayload struct {
		UserID  string `json:"userId"`
		Content string `json:"content"`
	}

	CursorUpdatePayload struct {
		UserID   string `json:"userId"`
		Position any    `json:"position"`
	}

	UserPresenceUpdatePayload struct {
		UserID   string `json:"userId"`
		IsActive bool   `json:"isActive"`
	}

	ErrorPayload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
)
