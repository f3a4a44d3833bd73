//go:build !linux

package ble

import (
	"context"
	"errors"

	"visiontrigger/internal/link"
)

// ErrUnsupported is returned on platforms without a BlueZ adapter
var ErrUnsupported = errors.New("ble transport is only supported on linux")

// Transport is unavailable on this platform
type Transport struct {
	cfg Config
}

// New creates a transport whose Connect always fails
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg.withDefaults()}
}

func (t *Transport) Name() string { return "ble" }

func (t *Transport) Connect(ctx context.Context, peer string, notify link.NotifyFunc) (link.Session, error) {
	return nil, ErrUnsupported
}
