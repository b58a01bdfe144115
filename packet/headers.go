package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/c360/routekit/errors"
)

// Well-known EtherType values.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeIPv6 uint16 = 0x86DD
)

const (
	ethernetHeaderLen = 14
	ipv4MinHeaderLen  = 20
)

// EthernetFrame is a view over a packet's payload interpreted as an
// Ethernet II frame. It does not copy; mutating accessors write through to
// the underlying packet, which the caller must own.
type EthernetFrame struct {
	data []byte
}

// Ethernet interprets the packet as an Ethernet frame.
func Ethernet(p *Packet) (EthernetFrame, error) {
	if len(p.Data) < ethernetHeaderLen {
		return EthernetFrame{}, errors.WrapInvalid(
			fmt.Errorf("frame is %d bytes, need %d", len(p.Data), ethernetHeaderLen),
			"packet", "Ethernet", "frame length check")
	}
	return EthernetFrame{data: p.Data}, nil
}

// DstMAC returns the destination MAC address bytes.
func (f EthernetFrame) DstMAC() []byte { return f.data[0:6] }

// SrcMAC returns the source MAC address bytes.
func (f EthernetFrame) SrcMAC() []byte { return f.data[6:12] }

// EtherType returns the frame's EtherType.
func (f EthernetFrame) EtherType() uint16 {
	return binary.BigEndian.Uint16(f.data[12:14])
}

// Payload returns the frame payload after the Ethernet header.
func (f EthernetFrame) Payload() []byte { return f.data[ethernetHeaderLen:] }

// IPv4Header is a view over IPv4 header bytes. Mutating accessors keep the
// header checksum consistent.
type IPv4Header struct {
	data []byte
}

// IPv4 interprets the packet payload as an IPv4 datagram. Frames carrying
// an Ethernet header should go through Ethernet(...).IPv4() instead.
func IPv4(p *Packet) (IPv4Header, error) {
	return ipv4View(p.Data)
}

// IPv4 interprets the frame payload as an IPv4 datagram.
func (f EthernetFrame) IPv4() (IPv4Header, error) {
	if f.EtherType() != EtherTypeIPv4 {
		return IPv4Header{}, errors.WrapInvalid(
			fmt.Errorf("ethertype 0x%04x", f.EtherType()),
			"packet", "IPv4", "ethertype check")
	}
	return ipv4View(f.Payload())
}

func ipv4View(data []byte) (IPv4Header, error) {
	if len(data) < ipv4MinHeaderLen {
		return IPv4Header{}, errors.WrapInvalid(
			fmt.Errorf("datagram is %d bytes, need %d", len(data), ipv4MinHeaderLen),
			"packet", "ipv4View", "header length check")
	}
	if data[0]>>4 != 4 {
		return IPv4Header{}, errors.WrapInvalid(
			fmt.Errorf("ip version %d", data[0]>>4),
			"packet", "ipv4View", "version check")
	}
	return IPv4Header{data: data}, nil
}

// HeaderLen returns the header length in bytes.
func (h IPv4Header) HeaderLen() int { return int(h.data[0]&0x0f) * 4 }

// TTL returns the time-to-live field.
func (h IPv4Header) TTL() uint8 { return h.data[8] }

// SetTTL writes the TTL and incrementally updates the header checksum
// (RFC 1624).
func (h IPv4Header) SetTTL(ttl uint8) {
	old := uint16(h.data[8]) << 8
	h.data[8] = ttl
	updated := uint16(ttl) << 8

	sum := binary.BigEndian.Uint16(h.data[10:12])
	// ~(~sum + ~old + new) in one's complement arithmetic
	acc := uint32(^sum) + uint32(^old) + uint32(updated)
	for acc>>16 != 0 {
		acc = acc&0xffff + acc>>16
	}
	binary.BigEndian.PutUint16(h.data[10:12], ^uint16(acc))
}

// Protocol returns the transport protocol number.
func (h IPv4Header) Protocol() uint8 { return h.data[9] }

// Src returns the source address.
func (h IPv4Header) Src() netip.Addr {
	return netip.AddrFrom4([4]byte(h.data[12:16]))
}

// Dst returns the destination address.
func (h IPv4Header) Dst() netip.Addr {
	return netip.AddrFrom4([4]byte(h.data[16:20]))
}

// Payload returns the bytes after the IPv4 header.
func (h IPv4Header) Payload() []byte {
	hl := h.HeaderLen()
	if hl > len(h.data) {
		return nil
	}
	return h.data[hl:]
}

// FlowKey is the classic 5-tuple used by flow classifiers.
type FlowKey struct {
	Src      netip.Addr
	Dst      netip.Addr
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16
}

// Flow extracts a 5-tuple from an IPv4 datagram. Ports are zero for
// protocols without them.
func (h IPv4Header) Flow() FlowKey {
	key := FlowKey{
		Src:      h.Src(),
		Dst:      h.Dst(),
		Protocol: h.Protocol(),
	}
	// TCP and UDP both lead with source and destination port.
	if p := h.Payload(); len(p) >= 4 && (key.Protocol == 6 || key.Protocol == 17) {
		key.SrcPort = binary.BigEndian.Uint16(p[0:2])
		key.DstPort = binary.BigEndian.Uint16(p[2:4])
	}
	return key
}

// String renders the flow key as "proto src:port->dst:port".
func (k FlowKey) String() string {
	return fmt.Sprintf("%d %s:%d->%s:%d", k.Protocol, k.Src, k.SrcPort, k.Dst, k.DstPort)
}
