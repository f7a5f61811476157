package deviceid

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		in   uint64
		want string
	}{
		{"zero", 0, "00:00:00:00:00:00"},
		{"one", 1, "00:00:00:00:00:01"},
		{"full width", 0x0000AABBCCDDEEFF, "AA:BB:CC:DD:EE:FF"},
		{"max", 0xFFFFFFFFFFFF, "FF:FF:FF:FF:FF:FF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.in))
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"uppercase colons", "AA:BB:CC:DD:EE:FF", true},
		{"lowercase colons", "aa:bb:cc:dd:ee:ff", true},
		{"empty", "", false},
		{"too short", "AA:BB:CC:DD:EE", false},
		{"64-bit eui", "AA:BB:CC:DD:EE:FF:00:11", false},
		{"dashes", "AA-BB-CC-DD-EE-FF", false},
		{"garbage", "not-a-mac", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.in))
		})
	}
}

func TestUploaderID_ProducesValidMAC(t *testing.T) {
	id, err := UploaderID()
	require.NoError(t, err)
	assert.True(t, IsValid(id), "uploader ID %q must be a valid MAC shape", id)
	assert.Equal(t, strings.ToUpper(id), id, "uploader ID must be uppercase")
}

func TestUploaderID_Stable(t *testing.T) {
	first, err := UploaderID()
	require.NoError(t, err)

	second, err := UploaderID()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestFallbackID_SetsLocallyAdministeredBit(t *testing.T) {
	id, err := fallbackID()
	require.NoError(t, err)
	require.True(t, IsValid(id))

	first, err := strconv.ParseUint(id[:2], 16, 8)
	require.NoError(t, err)

	// Locally administered bit set, multicast bit clear.
	assert.NotZero(t, first&0x02)
	assert.Zero(t, first&0x01)
}

func TestFallbackID_Deterministic(t *testing.T) {
	first, err := fallbackID()
	require.NoError(t, err)

	second, err := fallbackID()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMacUintFormatRoundtrip(t *testing.T) {
	const in = "02:00:5E:10:00:01"

	mac, ok := parseForTest(in)
	require.True(t, ok)
	assert.Equal(t, in, Format(macUint(mac)))
}

func parseForTest(s string) ([]byte, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != macBytes {
		return nil, false
	}

	mac := make([]byte, macBytes)

	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, false
		}

		mac[i] = byte(v)
	}

	return mac, true
}
