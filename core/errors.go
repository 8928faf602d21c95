package core

import "errors"

// Error kinds surfaced by the stores, the permission oracle and the
// collaboration engine. Implementations wrap them with fmt.Errorf("...: %w").
var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotFound          = errors.New("not found")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrProtocolViolation = errors.New("protocol violation")
)
