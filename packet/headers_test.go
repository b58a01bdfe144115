package packet

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildIPv4 assembles a header + payload with a valid checksum.
func buildIPv4(ttl, proto uint8, src, dst netip.Addr, payload []byte) []byte {
	data := make([]byte, 20+len(payload))
	data[0] = 0x45
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	data[8] = ttl
	data[9] = proto
	copy(data[12:16], src.AsSlice())
	copy(data[16:20], dst.AsSlice())

	var sum uint32
	for i := 0; i < 20; i += 2 {
		if i == 10 {
			continue
		}
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	binary.BigEndian.PutUint16(data[10:12], ^uint16(sum))
	copy(data[20:], payload)
	return data
}

func buildEthernet(etherType uint16, payload []byte) []byte {
	data := make([]byte, 14+len(payload))
	copy(data[0:6], []byte{0x02, 0, 0, 0, 0, 1})
	copy(data[6:12], []byte{0x02, 0, 0, 0, 0, 2})
	binary.BigEndian.PutUint16(data[12:14], etherType)
	copy(data[14:], payload)
	return data
}

var (
	ipSrc = netip.MustParseAddr("192.0.2.1")
	ipDst = netip.MustParseAddr("192.0.2.2")
)

func TestIPv4View(t *testing.T) {
	p := New(buildIPv4(64, 17, ipSrc, ipDst, []byte("data")))

	h, err := IPv4(p)
	require.NoError(t, err)
	assert.EqualValues(t, 64, h.TTL())
	assert.EqualValues(t, 17, h.Protocol())
	assert.Equal(t, ipSrc, h.Src())
	assert.Equal(t, ipDst, h.Dst())
	assert.Equal(t, "data", string(h.Payload()))
}

func TestIPv4RejectsMalformed(t *testing.T) {
	_, err := IPv4(New([]byte("short")))
	assert.Error(t, err)

	// Correct length but wrong version nibble.
	bad := buildIPv4(64, 17, ipSrc, ipDst, nil)
	bad[0] = 0x65
	_, err = IPv4(New(bad))
	assert.Error(t, err)
}

func TestSetTTLMaintainsChecksum(t *testing.T) {
	data := buildIPv4(64, 17, ipSrc, ipDst, nil)
	h, err := ipv4View(data)
	require.NoError(t, err)

	h.SetTTL(63)
	assert.EqualValues(t, 63, h.TTL())

	// Recompute from scratch and compare with the incremental update.
	want := buildIPv4(63, 17, ipSrc, ipDst, nil)
	assert.Equal(t, want[10:12], data[10:12])
}

func TestEthernetFrame(t *testing.T) {
	inner := buildIPv4(32, 6, ipSrc, ipDst, []byte{0x30, 0x39, 0x01, 0xbb})
	p := New(buildEthernet(EtherTypeIPv4, inner))

	f, err := Ethernet(p)
	require.NoError(t, err)
	assert.Equal(t, EtherTypeIPv4, f.EtherType())

	h, err := f.IPv4()
	require.NoError(t, err)
	assert.EqualValues(t, 32, h.TTL())

	// Non-IP frames refuse the IPv4 view.
	arp, err := Ethernet(New(buildEthernet(EtherTypeARP, inner)))
	require.NoError(t, err)
	_, err = arp.IPv4()
	assert.Error(t, err)
}

func TestFlowKey(t *testing.T) {
	// TCP ports 12345 -> 443.
	seg := []byte{0x30, 0x39, 0x01, 0xbb}
	h, err := ipv4View(buildIPv4(64, 6, ipSrc, ipDst, seg))
	require.NoError(t, err)

	key := h.Flow()
	assert.EqualValues(t, 12345, key.SrcPort)
	assert.EqualValues(t, 443, key.DstPort)
	assert.Equal(t, "6 192.0.2.1:12345->192.0.2.2:443", key.String())

	// ICMP has no ports.
	h, err = ipv4View(buildIPv4(64, 1, ipSrc, ipDst, seg))
	require.NoError(t, err)
	assert.Zero(t, h.Flow().SrcPort)
}
