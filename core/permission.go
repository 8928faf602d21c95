package core

import (
	"encoding/json"
	"fmt"
)

// Permission is an access level on a document. Levels are ordered.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionViewer
	PermissionEditor
	PermissionOwner
)

func (p Permission) String() string {
	switch p {
	case PermissionViewer:
		return "viewer"
	case PermissionEditor:
		return "editor"
	case PermissionOwner:
		return "owner"
	default:
		return "none"
	}
}

// CanRead reports whether the level allows joining a document session.
func (p Permission) CanRead() bool { return p >= PermissionViewer }

// CanWrite reports whether the level allows replacing document content.
// The owner implicitly has editor access.
func (p Permission) CanWrite() bool { return p >= PermissionEditor }

// ParsePermission parses the names used in share records.
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "none", "":
		return PermissionNone, nil
	case "viewer":
		return PermissionViewer, nil
	case "editor":
		return PermissionEditor, nil
	case "owner":
		return PermissionOwner, nil
	}
	return PermissionNone, fmt.Errorf("unknown permission %q", s)
}

func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Permission) UnmarshalText(text []byte) error {
	parsed, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return p.UnmarshalText([]byte(s))
}
