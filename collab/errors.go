package collab

import (
	"collab-docs/core"
	"errors"
	"fmt"
)

// Kind classifies a handling failure for the client-facing error event.
type Kind int

const (
	KindStoreUnavailable Kind = iota
	KindPermissionDenied
	KindNotFound
	KindProtocolViolation
)

// KindOf maps an error to its kind. Errors that match none of the core
// sentinels come from store I/O and are reported as KindStoreUnavailable.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, core.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, core.ErrProtocolViolation):
		return KindProtocolViolation
	case errors.Is(err, core.ErrNotFound):
		return KindNotFound
	default:
		return KindStoreUnavailable
	}
}

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindNotFound:
		return "NotFound"
	case KindProtocolViolation:
		return "ProtocolViolation"
	default:
		return "StoreUnavailable"
	}
}

// Code is the stable identifier sent in the error event.
func (k Kind) Code() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindNotFound:
		return "not_found"
	case KindProtocolViolation:
		return "protocol_violation"
	default:
		return "store_unavailable"
	}
}

func protocolViolation(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrProtocolViolation)
}

func permissionDenied(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrPermissionDenied)
}

// errorPayload builds the scoped error event. Store failures are reported
// without backend details.
func errorPayload(err error) ErrorPayload {
	kind := KindOf(err)
	msg := err.Error()
	if kind == KindStoreUnavailable {
		msg = "document store unavailable"
	}
	return ErrorPayload{Message: msg, Code: kind.Code()}
}
