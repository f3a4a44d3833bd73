// Package ble talks to a peripheral exposing a UART-style GATT service:
// commands are written to the RX characteristic, the peer notifies on TX.
package ble

import (
	"fmt"
	"strings"
)

// Nordic UART service defaults
const (
	DefaultServiceUUID = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	DefaultRXUUID      = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"
	DefaultTXUUID      = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
)

// Config selects the service and characteristics used on the peer
type Config struct {
	ServiceUUID string
	RXUUID      string
	TXUUID      string
}

func (c Config) withDefaults() Config {
	if c.ServiceUUID == "" {
		c.ServiceUUID = DefaultServiceUUID
	}
	if c.RXUUID == "" {
		c.RXUUID = DefaultRXUUID
	}
	if c.TXUUID == "" {
		c.TXUUID = DefaultTXUUID
	}
	return c
}

// NormalizeAddress upper-cases a MAC address and checks its shape
func NormalizeAddress(addr string) (string, error) {
	addr = strings.ToUpper(strings.TrimSpace(addr))
	parts := strings.Split(addr, ":")
	if len(parts) != 6 {
		return "", fmt.Errorf("invalid peer address %q", addr)
	}
	for _, p := range parts {
		if len(p) != 2 || strings.Trim(p, "0123456789ABCDEF") != "" {
			return "", fmt.Errorf("invalid peer address %q", addr)
		}
	}
	return addr, nil
}
