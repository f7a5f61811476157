// Package deviceid derives the stable per-installation uploader identifier
// the locker service requires for manager operations. The service expects a
// MAC-shaped ID; the convention is the primary hardware address incremented
// by one so the ID never collides with the real NIC.
package deviceid

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
)

// macBytes is the length of a 48-bit hardware address.
const macBytes = 6

// macModulus wraps the incremented address back into 48 bits.
const macModulus = 1 << 48

// UploaderID returns the uploader identifier for this machine: the first
// usable hardware MAC incremented by one, formatted as colon-separated
// uppercase hex. When no usable interface exists (containers, odd platforms),
// a stable hostname-derived fallback is used instead of failing.
func UploaderID() (string, error) {
	if mac, ok := primaryMAC(); ok {
		return Format((macUint(mac) + 1) % macModulus), nil
	}

	return fallbackID()
}

// primaryMAC returns the hardware address of the first non-loopback, up
// interface with a 48-bit globally administered unicast address.
func primaryMAC() (net.HardwareAddr, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		mac := iface.HardwareAddr
		if len(mac) != macBytes {
			continue
		}

		// Skip multicast and locally administered addresses — VPN and
		// bridge interfaces would make the ID unstable across reboots.
		if mac[0]&0x01 != 0 || mac[0]&0x02 != 0 {
			continue
		}

		return mac, true
	}

	return nil, false
}

// fallbackID derives a deterministic MAC-shaped ID from the hostname. The
// locally administered bit is set so the result can never collide with a
// real globally assigned address.
func fallbackID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("deviceid: no usable interface and no hostname: %w", err)
	}

	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("skyjam-go/"+hostname))

	mac := make(net.HardwareAddr, macBytes)
	copy(mac, id[:macBytes])
	mac[0] |= 0x02  // locally administered
	mac[0] &^= 0x01 // unicast

	return Format(macUint(mac)), nil
}

// macUint converts a 48-bit hardware address to its integer value.
func macUint(mac net.HardwareAddr) uint64 {
	buf := make([]byte, 8)
	copy(buf[2:], mac[:macBytes])

	return binary.BigEndian.Uint64(buf)
}

// Format renders a 48-bit integer as a colon-separated uppercase MAC string.
func Format(v uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)

	parts := make([]string, macBytes)
	for i, b := range buf[2:] {
		parts[i] = fmt.Sprintf("%02X", b)
	}

	return strings.Join(parts, ":")
}

// IsValid reports whether s is a well-formed 48-bit colon-separated MAC,
// the only uploader ID shape the service accepts.
func IsValid(s string) bool {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return false
	}

	return len(mac) == macBytes && strings.Count(s, ":") == macBytes-1
}
