package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"cowrite-server/core"
	"cowrite-server/relay"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const requestTimeout = 30 * time.Second

type ackInvoker func(err error, payload map[string]any)

// Identifier resolves a handshake token to an identity. An empty token must
// yield the anonymous identity.
type Identifier interface {
	Identify(token string) (core.Identity, error)
}

type Options struct {
	MaxHttpBufferSize int64
	// AllowedOrigins are accepted in addition to localhost.
	AllowedOrigins []string
}

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

// socketConn adapts a socket.io socket to the relay's Conn.
type socketConn struct {
	socket *socketio.Socket
}

func (c *socketConn) ID() string {
	return string(c.socket.Id())
}

func (c *socketConn) Emit(event string, payload any) error {
	wire, err := toWire(payload)
	if err != nil {
		return err
	}
	return c.socket.Emit(event, wire)
}

// toWire reduces payload to plain JSON values. Raw JSON would otherwise be
// sent as a binary attachment.
func toWire(payload any) (any, error) {
	switch p := payload.(type) {
	case nil, string, bool, float64, int:
		return p, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func SetupSocketIO(svc *relay.Service, identifier Identifier, options Options) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	if options.MaxHttpBufferSize > 0 {
		opts.SetMaxHttpBufferSize(options.MaxHttpBufferSize)
	} else {
		opts.SetMaxHttpBufferSize(5000000)
	}
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)

	origins := []any{"tauri://localhost", localhostOrigin}
	for _, origin := range options.AllowedOrigins {
		origins = append(origins, origin)
	}
	opts.SetCors(&types.Cors{
		Origin:      origins,
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		conn := &socketConn{socket: socket}
		log := logrus.WithField("session_id", conn.ID())

		identity, err := identifier.Identify(handshakeToken(socket))
		if err != nil {
			log.WithError(err).Warn("Invalid handshake token, continuing anonymously")
			identity = ""
		}

		sess := svc.Connect(conn, identity)
		log.WithField("identity", identity).Info("Client connected")

		for event, parse := range parsers {
			event, parse := event, parse
			//nolint:errcheck // Socket.IO event handlers do not return useful errors
			socket.On(event, func(datas ...any) {
				ack, args := extractAck(datas)
				msg, err := parse(args)
				if err != nil {
					_ = conn.Emit(relay.EventError, relay.ErrorPayload{Message: err.Error(), Code: relay.ErrorCode(err)})
					respondWithAck(ack, err)
					return
				}
				msg.Type = event

				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()
				err = svc.Dispatch(ctx, sess, msg)
				if err != nil && !isClientError(err) {
					log.WithError(err).WithField("event", event).Warn("Request failed")
				}
				respondWithAck(ack, err)
			})
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(datas ...any) {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if err := svc.Disconnect(ctx, sess); err != nil {
				log.WithError(err).Warn("Disconnect completed with errors")
			}
			socket.RemoveAllListeners("")
			log.Info("Client disconnected")
		})
	})

	return srv
}

// handshakeToken reads the bearer token from the socket.io auth payload.
func handshakeToken(socket *socketio.Socket) string {
	handshake := socket.Handshake()
	if handshake == nil {
		return ""
	}
	var auth any = handshake.Auth
	return tokenFromAuth(auth)
}

func tokenFromAuth(auth any) string {
	values, ok := auth.(map[string]any)
	if !ok {
		return ""
	}
	token, _ := values["token"].(string)
	return strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")
}

func isClientError(err error) bool {
	return errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrPermissionDenied) ||
		errors.Is(err, core.ErrValidation) ||
		errors.Is(err, relay.ErrNotJoined)
}

type argParser func(args []any) (relay.Message, error)

var parsers = map[string]argParser{
	relay.EventGetDocument:  parseGetDocument,
	relay.EventSendChanges:  parseSendChanges,
	relay.EventUpdateTitle:  parseUpdateTitle,
	relay.EventSaveDocument: parseSaveDocument,
}

// parseGetDocument accepts (documentId, title?) or ({documentId, title}).
func parseGetDocument(args []any) (relay.Message, error) {
	if len(args) == 0 {
		return relay.Message{}, core.Validationf("document id is required")
	}

	var msg relay.Message
	switch first := args[0].(type) {
	case string:
		msg.DocumentID = first
		if len(args) > 1 {
			msg.Title, _ = args[1].(string)
		}
	case map[string]any:
		msg.DocumentID, _ = first["documentId"].(string)
		if msg.DocumentID == "" {
			msg.DocumentID, _ = first["id"].(string)
		}
		msg.Title, _ = first["title"].(string)
	default:
		return relay.Message{}, core.Validationf("invalid document id")
	}

	if strings.TrimSpace(msg.DocumentID) == "" {
		return relay.Message{}, core.Validationf("document id is required")
	}
	return msg, nil
}

func parseSendChanges(args []any) (relay.Message, error) {
	if len(args) == 0 || args[0] == nil {
		return relay.Message{}, core.Validationf("operation is required")
	}
	payload, err := json.Marshal(args[0])
	if err != nil {
		return relay.Message{}, core.Validationf("operation is not serializable")
	}
	return relay.Message{Payload: payload}, nil
}

// parseUpdateTitle accepts (title) or ({title}).
func parseUpdateTitle(args []any) (relay.Message, error) {
	if len(args) == 0 {
		return relay.Message{}, core.Validationf("title is required")
	}
	switch first := args[0].(type) {
	case string:
		return relay.Message{Title: first}, nil
	case map[string]any:
		title, _ := first["title"].(string)
		return relay.Message{Title: title}, nil
	}
	return relay.Message{}, core.Validationf("invalid title")
}

// parseSaveDocument accepts ({content, title}), ({data, title}) or a bare
// snapshot.
func parseSaveDocument(args []any) (relay.Message, error) {
	if len(args) == 0 || args[0] == nil {
		return relay.Message{}, core.Validationf("snapshot is required")
	}

	var msg relay.Message
	data := args[0]
	if envelope, ok := args[0].(map[string]any); ok {
		content, hasContent := envelope["content"]
		if !hasContent {
			content, hasContent = envelope["data"]
		}
		switch {
		case hasContent:
			data = content
			msg.Title, _ = envelope["title"].(string)
		case len(envelope) == 1 && envelope["title"] != nil:
			title, _ := envelope["title"].(string)
			return relay.Message{Title: title}, nil
		}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return relay.Message{}, core.Validationf("snapshot is not serializable")
	}
	msg.Payload = payload
	return msg, nil
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		value.Call(buildAckArgs(typ, err, payload))
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// buildAckArgs fills error parameters with err and every other parameter
// with payload.
func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	args := make([]reflect.Value, typ.NumIn())
	for i := range args {
		paramType := typ.In(i)
		if paramType == errorType {
			args[i] = coerceValue(err, paramType)
			continue
		}
		args[i] = coerceValue(payload, paramType)
	}
	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}

	if targetType.Kind() == reflect.Slice && targetType.Elem().Kind() == reflect.Interface {
		slice := reflect.MakeSlice(targetType, 1, 1)
		slice.Index(0).Set(rv)
		return slice
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}

	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	return reflect.Zero(targetType)
}

func ackPayload(err error) map[string]any {
	if err == nil {
		return map[string]any{"status": "ok"}
	}
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
		"code":   relay.ErrorCode(err),
	}
}

func respondWithAck(ack ackInvoker, err error) {
	if ack == nil {
		return
	}
	// the error event already reached the client; the ack carries status only
	ack(nil, ackPayload(err))
}
