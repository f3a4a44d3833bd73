package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Camera.Device == "" {
		errs = append(errs, errors.New("camera.device is required"))
	}
	if c.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.fps must be positive, got %d", c.Camera.FPS))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height))
	}

	if c.Detector.Endpoint == "" {
		errs = append(errs, errors.New("detector.endpoint is required"))
	}
	if !inUnitRange(c.Detector.ScoreThreshold) {
		errs = append(errs, fmt.Errorf("detector.score_threshold must be in [0,1], got %v", c.Detector.ScoreThreshold))
	}

	if c.Trigger.TargetLabel == "" {
		errs = append(errs, errors.New("trigger.target_label is required"))
	}
	if !inUnitRange(c.Trigger.Threshold) {
		errs = append(errs, fmt.Errorf("trigger.threshold must be in [0,1], got %v", c.Trigger.Threshold))
	}
	if c.Trigger.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("trigger.cooldown must not be negative, got %s", c.Trigger.Cooldown))
	}

	if c.Actuation.Command == "" {
		errs = append(errs, errors.New("actuation.command is required"))
	}
	if c.Actuation.Hold < 0 {
		errs = append(errs, fmt.Errorf("actuation.hold must not be negative, got %s", c.Actuation.Hold))
	}

	switch strings.ToLower(c.Link.Transport) {
	case "ble":
		if c.Link.BLE.RXUUID == "" {
			errs = append(errs, errors.New("link.ble.rx_uuid is required"))
		}
	case "mqtt":
		if c.Link.MQTT.Broker == "" {
			errs = append(errs, errors.New("link.mqtt.broker is required"))
		}
		if c.Link.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("link.mqtt.qos must be 0, 1 or 2, got %d", c.Link.MQTT.QoS))
		}
	default:
		errs = append(errs, fmt.Errorf("link.transport must be ble or mqtt, got %q", c.Link.Transport))
	}
	if c.Link.Peer == "" {
		errs = append(errs, errors.New("link.peer is required"))
	}
	if c.Link.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("link.connect_timeout must be positive"))
	}
	if c.Link.Backoff.Initial <= 0 {
		errs = append(errs, errors.New("link.backoff.initial must be positive"))
	}
	if c.Link.Backoff.Max > 0 && c.Link.Backoff.Max < c.Link.Backoff.Initial {
		errs = append(errs, errors.New("link.backoff.max must not be below link.backoff.initial"))
	}

	if c.Loop.Interval < 0 {
		errs = append(errs, errors.New("loop.interval must not be negative"))
	}

	return errors.Join(errs...)
}

func inUnitRange(v float32) bool {
	return v >= 0 && v <= 1
}
