// Package perm decides what a web client may do with the outline.
package perm

import (
	"fmt"
	"strings"
)

// Scope is carried in a signed session token.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
)

type Op int

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeWrite:
		return ScopeWrite, nil
	case ScopeRead:
		return ScopeRead, nil
	default:
		return "", fmt.Errorf("invalid scope %q (expected read|write)", s)
	}
}

// Policy is the server-wide setting the caller's scope is checked against.
type Policy struct {
	ReadOnly bool
	// AuthRequired means requests without a valid token are refused. When
	// false every caller is treated as holding ScopeWrite.
	AuthRequired bool
}

// Allows reports whether a caller may perform op.
//
// Rules:
//   - A read-only server refuses every write.
//   - Without auth, anyone may do anything else.
//   - With auth, a missing scope refuses everything; read tokens may only read.
func (p Policy) Allows(scope Scope, op Op) bool {
	if op == OpWrite && p.ReadOnly {
		return false
	}
	if !p.AuthRequired {
		return true
	}
	switch scope {
	case ScopeWrite:
		return true
	case ScopeRead:
		return op == OpRead
	default:
		return false
	}
}
