package websocket

import (
	"collab-docs/collab"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// ackFunc answers a client acknowledgement callback.
type ackFunc func(payload map[string]any)

// newEvent returns a pointer to the zero event for an inbound event name.
func newEvent(name string) (any, bool) {
	switch name {
	case collab.EventJoinDocument:
		return &collab.JoinDocument{}, true
	case collab.EventLeaveDocument:
		return &collab.LeaveDocument{}, true
	case collab.EventTextChange:
		return &collab.TextChange{}, true
	case collab.EventCursorUpdate:
		return &collab.CursorUpdate{}, true
	case collab.EventUserPresence:
		return &collab.UserPresence{}, true
	}
	return nil, false
}

// decodeEvent turns the raw socket.io arguments of an event into a typed
// event. The first argument must be an object; unknown fields are ignored and
// mistyped fields are rejected.
func decodeEvent(name string, args []any) (collab.Event, error) {
	target, ok := newEvent(name)
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: payload is required", name)
	}
	payload, ok := args[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: payload must be an object, got %T", name, args[0])
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(payload); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return reflect.ValueOf(target).Elem().Interface().(collab.Event), nil
}

// extractAck splits a trailing acknowledgement callback off the arguments.
func extractAck(datas []any) (ackFunc, []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	ack := wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts whatever function type the transport hands us. Each
// parameter receives the payload when it can hold it and its zero value
// otherwise, so error parameters stay nil.
func wrapAck(candidate any) ackFunc {
	if candidate == nil {
		return nil
	}
	if fn, ok := candidate.(func(...any)); ok {
		return func(payload map[string]any) { fn(payload) }
	}

	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}
	typ := value.Type()
	return func(payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			args[i] = ackArg(typ.In(i), payload)
		}
		if typ.IsVariadic() && len(args) > 0 {
			value.CallSlice(args)
			return
		}
		value.Call(args)
	}
}

func ackArg(paramType reflect.Type, payload map[string]any) reflect.Value {
	rv := reflect.ValueOf(payload)
	switch {
	case paramType.Kind() == reflect.Slice && paramType.Elem().Kind() == reflect.Interface:
		list := reflect.MakeSlice(paramType, 1, 1)
		list.Index(0).Set(rv)
		return list
	case rv.Type().AssignableTo(paramType):
		return rv
	case paramType.Kind() == reflect.Interface && paramType.NumMethod() == 0:
		return rv
	}
	return reflect.Zero(paramType)
}
