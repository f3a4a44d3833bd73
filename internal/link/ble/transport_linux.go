//go:build linux

package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"visiontrigger/internal/link"
	"visiontrigger/internal/logger"
)

// Transport implements link.Transport over BlueZ
type Transport struct {
	cfg     Config
	adapter *bluetooth.Adapter

	enableOnce sync.Once
	enableErr  error

	mu      sync.Mutex
	current *session
}

// New creates a transport on the default adapter
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg.withDefaults(), adapter: bluetooth.DefaultAdapter}
}

func (t *Transport) Name() string { return "ble" }

func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("enable adapter: %w", err)
			return
		}
		t.adapter.SetConnectHandler(t.onConnectChange)
	})
	return t.enableErr
}

// onConnectChange is the adapter-wide callback; it drops the live session
// when its device goes away.
func (t *Transport) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	t.mu.Lock()
	sess := t.current
	t.mu.Unlock()

	if sess != nil && sess.address == device.Address.String() {
		sess.Drop(errors.New("peripheral disconnected"))
	}
}

type connectResult struct {
	device bluetooth.Device
	err    error
}

// Connect connects to peer, resolves the UART characteristics and enables
// notifications on TX.
func (t *Transport) Connect(ctx context.Context, peer string, notify link.NotifyFunc) (link.Session, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	addr, err := NormalizeAddress(peer)
	if err != nil {
		return nil, err
	}
	mac, err := bluetooth.ParseMAC(addr)
	if err != nil {
		return nil, err
	}

	params := bluetooth.ConnectionParams{}
	if deadline, ok := ctx.Deadline(); ok {
		params.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}

	// Adapter.Connect takes no context; a late success is torn down.
	results := make(chan connectResult, 1)
	go func() {
		device, err := t.adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, params)
		results <- connectResult{device: device, err: err}
	}()

	var device bluetooth.Device
	select {
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		device = res.device
	case <-ctx.Done():
		go func() {
			if res := <-results; res.err == nil {
				res.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}

	rx, err := t.setup(device, notify)
	if err != nil {
		device.Disconnect()
		return nil, err
	}

	sess := &session{
		DropSignal: link.NewDropSignal(),
		device:     device,
		rx:         rx,
		address:    device.Address.String(),
	}
	t.mu.Lock()
	t.current = sess
	t.mu.Unlock()

	logger.Info("BLE", "Connected to %s, notifications enabled", addr)
	return sess, nil
}

func (t *Transport) setup(device bluetooth.Device, notify link.NotifyFunc) (bluetooth.DeviceCharacteristic, error) {
	var rx bluetooth.DeviceCharacteristic

	serviceUUID, err := bluetooth.ParseUUID(t.cfg.ServiceUUID)
	if err != nil {
		return rx, fmt.Errorf("service uuid: %w", err)
	}
	rxUUID, err := bluetooth.ParseUUID(t.cfg.RXUUID)
	if err != nil {
		return rx, fmt.Errorf("rx uuid: %w", err)
	}
	txUUID, err := bluetooth.ParseUUID(t.cfg.TXUUID)
	if err != nil {
		return rx, fmt.Errorf("tx uuid: %w", err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return rx, fmt.Errorf("discover services: %w", err)
	}
	if len(services) == 0 {
		return rx, fmt.Errorf("service %s not found", t.cfg.ServiceUUID)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{rxUUID, txUUID})
	if err != nil {
		return rx, fmt.Errorf("discover characteristics: %w", err)
	}

	var tx bluetooth.DeviceCharacteristic
	var haveRX, haveTX bool
	for _, c := range chars {
		switch c.UUID() {
		case rxUUID:
			rx, haveRX = c, true
		case txUUID:
			tx, haveTX = c, true
		}
	}
	if !haveRX || !haveTX {
		return rx, errors.New("uart characteristics not found")
	}

	if err := tx.EnableNotifications(func(buf []byte) { notify(buf) }); err != nil {
		return rx, fmt.Errorf("enable notifications: %w", err)
	}
	return rx, nil
}

type session struct {
	*link.DropSignal
	device  bluetooth.Device
	rx      bluetooth.DeviceCharacteristic
	address string

	writeMu sync.Mutex
}

func (s *session) Write(ctx context.Context, payload []byte) error {
	if s.Dropped() {
		return link.ErrNotConnected
	}

	done := make(chan error, 1)
	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.rx.WriteWithoutResponse(payload)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			s.Drop(err)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) Close() error {
	s.Drop(nil)
	return s.device.Disconnect()
}
