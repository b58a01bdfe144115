// Package testutil holds helpers shared by the router's tests: packet
// builders and a scripted execution context for driving Poll directly
// without a scheduler.
package testutil

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/c360/routekit/link"
	"github.com/c360/routekit/packet"
	"github.com/c360/routekit/processor"
)

// Payloads builds one packet per string payload.
func Payloads(payloads ...string) []*packet.Packet {
	pkts := make([]*packet.Packet, len(payloads))
	for i, s := range payloads {
		pkts[i] = packet.New([]byte(s))
	}
	return pkts
}

// Tagged builds a packet carrying the given value in the "tag" annotation.
func Tagged(tag string) *packet.Packet {
	p := packet.New([]byte(tag))
	p.SetAnnotation("tag", tag)
	return p
}

// IPv4Packet builds a minimal valid IPv4 datagram (20-byte header, given
// payload) with a correct header checksum.
func IPv4Packet(ttl uint8, src, dst netip.Addr, payload []byte) *packet.Packet {
	data := make([]byte, 20+len(payload))
	data[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(data[2:4], uint16(len(data)))
	data[8] = ttl
	data[9] = 17 // UDP, arbitrary
	copy(data[12:16], src.AsSlice())
	copy(data[16:20], dst.AsSlice())
	binary.BigEndian.PutUint16(data[10:12], ipv4Checksum(data[:20]))
	copy(data[20:], payload)
	return packet.New(data)
}

func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i < len(header); i += 2 {
		if i == 10 {
			continue // checksum field counts as zero
		}
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// Exec is a processor.ExecContext for single-threaded tests: inputs and
// outputs are plain queues and wakes are counted instead of scheduled.
type Exec struct {
	Ins   []*link.Queue
	Outs  []*link.Queue
	Wakes int
	Drops []string
}

var _ processor.ExecContext = (*Exec)(nil)

// NewExec creates an execution context with nIn input and nOut output
// queues. Capacities are separate so a test can keep inputs roomy enough
// for its Feed calls while starving an output.
func NewExec(nIn, nOut, inCap, outCap int) *Exec {
	e := &Exec{}
	for i := 0; i < nIn; i++ {
		e.Ins = append(e.Ins, link.NewQueue(fmt.Sprintf("test.in%d", i), inCap))
	}
	for i := 0; i < nOut; i++ {
		e.Outs = append(e.Outs, link.NewQueue(fmt.Sprintf("test.out%d", i), outCap))
	}
	return e
}

// In implements processor.ExecContext.
func (e *Exec) In(i int) link.Puller { return e.Ins[i] }

// NumIn implements processor.ExecContext.
func (e *Exec) NumIn() int { return len(e.Ins) }

// Out implements processor.ExecContext.
func (e *Exec) Out(i int) link.Pusher { return e.Outs[i] }

// NumOut implements processor.ExecContext.
func (e *Exec) NumOut() int { return len(e.Outs) }

// Waker implements processor.ExecContext; wakes are only counted.
func (e *Exec) Waker() link.Waker {
	return func() { e.Wakes++ }
}

// Drop implements processor.ExecContext.
func (e *Exec) Drop(reason string) { e.Drops = append(e.Drops, reason) }

// Feed pushes packets onto input queue i, panicking on Full so a test
// cannot silently lose its own inputs.
func (e *Exec) Feed(i int, pkts ...*packet.Packet) {
	for _, p := range pkts {
		if e.Ins[i].TryPush(p) != link.PushAccepted {
			panic("test input queue full")
		}
	}
}

// DrainOut pulls everything currently queued on output i.
func (e *Exec) DrainOut(i int) []*packet.Packet {
	var out []*packet.Packet
	for {
		p, res := e.Outs[i].TryPull()
		if res != link.PullOK {
			return out
		}
		out = append(out, p)
	}
}
