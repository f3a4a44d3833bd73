package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	addr, err := NormalizeAddress(" 2c:cf:67:98:33:08 ")
	require.NoError(t, err)
	assert.Equal(t, "2C:CF:67:98:33:08", addr)

	for _, bad := range []string{"", "2C:CF:67:98:33", "2C:CF:67:98:33:0G", "2CCF67983308"} {
		_, err := NormalizeAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RXUUID: "custom"}.withDefaults()
	assert.Equal(t, DefaultServiceUUID, cfg.ServiceUUID)
	assert.Equal(t, "custom", cfg.RXUUID)
	assert.Equal(t, DefaultTXUUID, cfg.TXUUID)
}

func TestTransportName(t *testing.T) {
	assert.Equal(t, "ble", New(Config{}).Name())
}
