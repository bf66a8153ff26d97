// Package domain contains entities without logic, just meta-data shared by
// the session, the transports and the media engine.
package domain

import (
	"errors"
	"strconv"
)

const (
	MaxPluginNameLen = 64
	MaxOpaqueIDLen   = 256
)

var (
	ErrPluginNameEmpty   = errors.New("plugin name empty")
	ErrPluginNameTooLong = errors.New("plugin name too long")
	ErrOpaqueIDTooLong   = errors.New("opaque id too long")
)

type (
	SessionID     uint64
	HandleID      uint64
	TransactionID string
)

func (id SessionID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (id HandleID) String() string  { return strconv.FormatUint(uint64(id), 10) }

// Plugin identifies what a handle is attached to.
type Plugin struct {
	Name     string
	OpaqueID string
}

// NewPlugin is a tiny helper to avoid ad-hoc struct literals in callers.
func NewPlugin(name, opaqueID string) (Plugin, error) {
	if len(name) == 0 {
		return Plugin{}, ErrPluginNameEmpty
	}
	if len(name) > MaxPluginNameLen {
		return Plugin{}, ErrPluginNameTooLong
	}
	if len(opaqueID) > MaxOpaqueIDLen {
		return Plugin{}, ErrOpaqueIDTooLong
	}
	return Plugin{Name: name, OpaqueID: opaqueID}, nil
}
