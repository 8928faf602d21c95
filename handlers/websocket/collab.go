package websocket

import (
	"collab-docs/auth"
	"collab-docs/collab"
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

var errUnauthenticated = errors.New("authentication required")

type Options struct {
	// AllowedOrigins lists the CORS origins for the socket.io handshake.
	// "*" allows any origin.
	AllowedOrigins    []string
	MaxHTTPBufferSize int64
	Connection        collab.ConnectionOptions
}

// socketTransport adapts a socket.io socket to collab.Transport.
type socketTransport struct {
	socket *socketio.Socket
}

func (t *socketTransport) ID() string { return string(t.socket.Id()) }

func (t *socketTransport) Emit(event string, payload any) error {
	return t.socket.Emit(event, payload)
}

func (t *socketTransport) Close() {
	t.socket.Disconnect(true)
}

// Leave disconnects the namespace only. The disconnect packet is queued on
// the underlying transport after any packet emitted before it.
func (t *socketTransport) Leave() {
	t.socket.Disconnect(false)
}

// rejecter is the part of a socket used to turn a handshake away.
type rejecter interface {
	Emit(event string, payload any) error
	Leave()
}

// reject reports err to the client and then disconnects it. The error event
// and the disconnect travel in order over the same transport, so the client
// receives the error before it is disconnected.
func reject(r rejecter, err error) {
	if emitErr := r.Emit(collab.EventError, collab.ErrorPayload{
		Message: err.Error(),
		Code:    collab.KindPermissionDenied.Code(),
	}); emitErr != nil {
		logrus.WithError(emitErr).Debug("Failed to emit handshake rejection")
	}
	r.Leave()
}

// SetupSocketIO creates the socket.io server. Every accepted socket gets a
// collab.Connection that feeds its events to dispatcher in arrival order.
// With a nil tokens the user ID is taken from the handshake as presented.
func SetupSocketIO(ctx context.Context, dispatcher collab.Dispatcher, tokens *auth.Tokens, o Options) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	if o.MaxHTTPBufferSize > 0 {
		opts.SetMaxHttpBufferSize(o.MaxHTTPBufferSize)
	}
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      corsOrigin(o.AllowedOrigins),
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		log := logrus.WithField("connection_id", socket.Id())
		transport := &socketTransport{socket: socket}

		token, presentedUser := handshakeCredentials(socket)
		userID, err := resolveUser(tokens, token, presentedUser)
		if err != nil {
			log.WithError(err).Warn("Rejecting unauthenticated connection")
			reject(transport, err)
			return
		}

		conn := collab.NewConnection(ctx, transport, dispatcher, userID, o.Connection)
		for _, name := range []string{
			collab.EventJoinDocument,
			collab.EventLeaveDocument,
			collab.EventTextChange,
			collab.EventCursorUpdate,
			collab.EventUserPresence,
		} {
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(name, func(datas ...any) {
				deliver(conn, name, datas)
			})
		}

		socket.On("disconnect", func(datas ...any) {
			log.WithField("user_id", userID).Debug("Socket disconnected")
			socket.RemoveAllListeners("")
			conn.Close()
		})

		conn.Start()
		log.WithField("user_id", userID).Info("Client connected")
	})

	return srv
}

// deliver decodes one socket.io event and queues it on the connection.
// Malformed payloads are answered with a protocol_violation error event.
func deliver(conn *collab.Connection, name string, datas []any) {
	ack, args := extractAck(datas)

	ev, err := decodeEvent(name, args)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"connection_id": conn.ID(),
			"event":         name,
		}).WithError(err).Warn("Malformed event")
		_ = conn.Send(collab.EventError, collab.ErrorPayload{
			Message: err.Error(),
			Code:    collab.KindProtocolViolation.Code(),
		})
		if ack != nil {
			ack(map[string]any{"status": "error", "error": err.Error()})
		}
		return
	}

	if err := conn.Deliver(ev); err != nil {
		if ack != nil {
			ack(map[string]any{"status": "error", "error": err.Error()})
		}
		return
	}
	if ack != nil {
		ack(map[string]any{"status": "ok"})
	}
}

// resolveUser fixes the identity of a connection at handshake time.
func resolveUser(tokens *auth.Tokens, token, presentedUser string) (string, error) {
	if tokens == nil {
		if presentedUser == "" {
			return "", errUnauthenticated
		}
		return presentedUser, nil
	}
	if token == "" {
		return "", errUnauthenticated
	}
	claims, err := tokens.Parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// handshakeCredentials reads the bearer token and user ID from the handshake
// auth object, falling back to query parameters.
func handshakeCredentials(socket *socketio.Socket) (token, userID string) {
	hs := socket.Handshake()
	if hs == nil {
		return "", ""
	}
	if m, ok := any(hs.Auth).(map[string]any); ok {
		token, _ = m["token"].(string)
		userID, _ = m["userId"].(string)
	}
	if token == "" {
		token = firstValue(hs.Query, "token")
	}
	if userID == "" {
		userID = firstValue(hs.Query, "userId")
	}
	return token, userID
}

func firstValue(query map[string][]string, key string) string {
	if v := query[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func corsOrigin(origins []string) any {
	if len(origins) == 0 {
		return "*"
	}
	list := make([]any, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return "*"
		}
		list = append(list, o)
	}
	return list
}
