// Package dataplane implements the UPF per-packet fast path: GTP-U
// encapsulation toward the gNB and decapsulation toward the data network.
package dataplane

import (
	"encoding/binary"
	"errors"

	upfctx "github.com/your-org/5gc-core/nf/upf/internal/context"
)

const (
	// IPv4HeaderLen is the outer header size; the fast path never emits
	// IP options.
	IPv4HeaderLen = 20
	UDPHeaderLen  = 8
	GTPUHeaderLen = 8

	// OuterOverhead is the total bytes prepended to an inner packet on
	// downlink encapsulation.
	OuterOverhead = IPv4HeaderLen + UDPHeaderLen + GTPUHeaderLen

	// GTPUPort is the registered GTP-U UDP port.
	GTPUPort = 2152
	// GTPUSourcePort is used as the UDP source on encapsulated downlink.
	GTPUSourcePort = 2153

	// GTPUMessageTPDU is the T-PDU message type carrying user traffic.
	GTPUMessageTPDU = 255

	// gtpuFlagsTPDU encodes version=1, PT=1, no extension/sequence/N-PDU.
	gtpuFlagsTPDU = 0x30

	protoUDP = 17
	outerTTL = 64
)

var (
	ErrTruncated    = errors.New("packet too short")
	ErrNotIPv4      = errors.New("not an IPv4 packet")
	ErrNotGTPU      = errors.New("not a GTP-U packet")
	ErrBadGTPHeader = errors.New("malformed GTP-U header")
	ErrEmptyPayload = errors.New("GTP-U payload length <= 0")
)

// innerIPv4 validates the minimal IPv4 facts the fast path needs from a
// packet: version, header length and total length.
func innerIPv4(pkt []byte) (totalLen int, dscp uint8, err error) {
	if len(pkt) < IPv4HeaderLen {
		return 0, 0, ErrTruncated
	}
	if pkt[0]>>4 != 4 {
		return 0, 0, ErrNotIPv4
	}
	totalLen = int(binary.BigEndian.Uint16(pkt[2:4]))
	if totalLen < IPv4HeaderLen || totalLen > len(pkt) {
		return 0, 0, ErrTruncated
	}
	// DSCP lives in the top six bits of the TOS byte.
	return totalLen, pkt[1], nil
}

// DownlinkDst extracts the destination address of a data-network packet for
// session classification. The full validation happens in Encapsulate.
func DownlinkDst(pkt []byte) (uint32, error) {
	if len(pkt) < IPv4HeaderLen {
		return 0, ErrTruncated
	}
	if pkt[0]>>4 != 4 {
		return 0, ErrNotIPv4
	}
	return binary.BigEndian.Uint32(pkt[16:20]), nil
}

// Encapsulate builds a GTP-U tunneled packet toward the gNB from an inner
// data-network IPv4 packet. The inner packet is copied into a fresh buffer
// behind freshly built outer IPv4, UDP and GTP-U headers.
func Encapsulate(inner []byte, sess *upfctx.Session, localIP uint32) ([]byte, error) {
	innerLen, tos, err := innerIPv4(inner)
	if err != nil {
		return nil, err
	}

	out := make([]byte, OuterOverhead+innerLen)

	// Outer IPv4. Checksums are left zero: offloaded to hardware on a
	// real NIC and legal for UDP over IPv4.
	out[0] = 0x45
	out[1] = tos
	binary.BigEndian.PutUint16(out[2:4], uint16(OuterOverhead+innerLen))
	binary.BigEndian.PutUint16(out[4:6], 1) // identification
	binary.BigEndian.PutUint16(out[6:8], 0) // flags + fragment offset
	out[8] = outerTTL
	out[9] = protoUDP
	binary.BigEndian.PutUint32(out[12:16], localIP)
	binary.BigEndian.PutUint32(out[16:20], sess.GNBIP)

	// Outer UDP.
	udp := out[IPv4HeaderLen:]
	binary.BigEndian.PutUint16(udp[0:2], GTPUSourcePort)
	binary.BigEndian.PutUint16(udp[2:4], sess.GNBPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(UDPHeaderLen+GTPUHeaderLen+innerLen))

	// GTP-U.
	gtp := out[IPv4HeaderLen+UDPHeaderLen:]
	gtp[0] = gtpuFlagsTPDU
	gtp[1] = GTPUMessageTPDU
	binary.BigEndian.PutUint16(gtp[2:4], uint16(innerLen))
	binary.BigEndian.PutUint32(gtp[4:8], sess.DownlinkTEID)

	copy(out[OuterOverhead:], inner[:innerLen])
	return out, nil
}

// Decapsulated is the result of parsing an uplink GTP-U packet.
type Decapsulated struct {
	TEID  uint32
	Inner []byte
}

// Decapsulate validates an N3 uplink packet and extracts the tunneled inner
// IP packet. The inner packet is copied so the caller may reuse the receive
// buffer.
func Decapsulate(pkt []byte) (Decapsulated, error) {
	if len(pkt) < OuterOverhead {
		return Decapsulated{}, ErrTruncated
	}
	if pkt[0]>>4 != 4 {
		return Decapsulated{}, ErrNotIPv4
	}
	ihl := int(pkt[0]&0x0f) * 4
	if ihl < IPv4HeaderLen || len(pkt) < ihl+UDPHeaderLen+GTPUHeaderLen {
		return Decapsulated{}, ErrTruncated
	}
	if pkt[9] != protoUDP {
		return Decapsulated{}, ErrNotGTPU
	}

	udp := pkt[ihl:]
	if binary.BigEndian.Uint16(udp[2:4]) != GTPUPort {
		return Decapsulated{}, ErrNotGTPU
	}

	gtp := udp[UDPHeaderLen:]
	if gtp[0]>>5 != 1 { // version bits must be 001
		return Decapsulated{}, ErrBadGTPHeader
	}
	if gtp[1] != GTPUMessageTPDU {
		return Decapsulated{}, ErrBadGTPHeader
	}
	payloadLen := int(binary.BigEndian.Uint16(gtp[2:4]))
	if payloadLen <= 0 {
		return Decapsulated{}, ErrEmptyPayload
	}
	if payloadLen > len(gtp)-GTPUHeaderLen {
		payloadLen = len(gtp) - GTPUHeaderLen
	}
	if payloadLen <= 0 {
		return Decapsulated{}, ErrEmptyPayload
	}

	inner := make([]byte, payloadLen)
	copy(inner, gtp[GTPUHeaderLen:GTPUHeaderLen+payloadLen])

	return Decapsulated{
		TEID:  binary.BigEndian.Uint32(gtp[4:8]),
		Inner: inner,
	}, nil
}
