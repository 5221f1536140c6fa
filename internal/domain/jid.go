// Package domain contains signaling entities without transport logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxLocalpartLen = 1023
	MaxJIDLen       = 3071
)

var (
	ErrJIDEmpty     = errors.New("jid empty")
	ErrJIDTooLong   = errors.New("jid too long")
	ErrJIDNoDomain  = errors.New("jid has no domain")
	ErrLocalTooLong = errors.New("jid localpart too long")
)

// JID is a signaling address in the form local@domain/resource.
// Local and resource are optional.
type JID string

func ParseJID(s string) (JID, error) {
	if len(s) == 0 {
		return "", ErrJIDEmpty
	}
	if len(s) > MaxJIDLen {
		return "", ErrJIDTooLong
	}
	j := JID(s)
	if j.Domain() == "" {
		return "", ErrJIDNoDomain
	}
	if len(j.Local()) > MaxLocalpartLen {
		return "", ErrLocalTooLong
	}
	return j, nil
}

func (j JID) String() string { return string(j) }

// Bare strips the resource.
func (j JID) Bare() JID {
	if i := strings.IndexByte(string(j), '/'); i >= 0 {
		return j[:i]
	}
	return j
}

func (j JID) Local() string {
	bare := string(j.Bare())
	if i := strings.IndexByte(bare, '@'); i >= 0 {
		return bare[:i]
	}
	return ""
}

func (j JID) Domain() string {
	bare := string(j.Bare())
	if i := strings.IndexByte(bare, '@'); i >= 0 {
		return bare[i+1:]
	}
	return bare
}

func (j JID) Resource() string {
	if i := strings.IndexByte(string(j), '/'); i >= 0 {
		return string(j[i+1:])
	}
	return ""
}

func (j JID) IsFull() bool { return j.Resource() != "" }

// WithResource returns local@domain/res.
func (j JID) WithResource(res string) JID {
	if res == "" {
		return j.Bare()
	}
	return j.Bare() + JID("/"+res)
}
