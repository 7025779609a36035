package transport

import (
	"crypto/md5"
	"encoding/binary"
)

// Protocol version and header layout.
const (
	ProtocolVersion = 1
	HeaderSize      = 20
	MaxPayloadSize  = 1024
)

// Flag bits. They combine bitwise; the legal compound packets are SYN,
// SYN|ACK, ACK, DATA, FIN, FIN|ACK. Any other combination is unspecified.
const (
	FlagData byte = 0x01
	FlagAck  byte = 0x02
	FlagSyn  byte = 0x04
	FlagFin  byte = 0x08
	FlagRst  byte = 0x10
)

// packet is the in-memory form of one wire datagram.
type packet struct {
	version  uint8
	flags    byte
	connHint uint16 // reserved, always 0 on the wire
	seq      uint32
	ack      uint32
	length   uint32
	payload  []byte
}

func hasFlag(flags, bit byte) bool {
	return flags&bit != 0
}

// encode packs the header and payload into one wire buffer and computes the
// integrity digest over the 16 header bytes preceding it plus the payload.
func encode(flags byte, seq, ack uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = ProtocolVersion
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], 0) // connHint, reserved
	binary.BigEndian.PutUint32(buf[4:8], seq)
	binary.BigEndian.PutUint32(buf[8:12], ack)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	digest := integrityDigest(buf[:16], payload)
	copy(buf[16:20], digest)

	return buf
}

// integrityDigest returns the first 4 bytes of the MD5 digest of the first
// 16 header bytes concatenated with the payload.
func integrityDigest(header16 []byte, payload []byte) []byte {
	h := md5.New()
	h.Write(header16)
	h.Write(payload)
	sum := h.Sum(nil)
	return sum[:4]
}

// decode parses and verifies a wire buffer. A datagram shorter than
// HeaderSize is malformed. A digest mismatch fails verification. Both
// conditions are reported via the second return value so the caller can
// count them without touching connection state.
func decode(buf []byte) (packet, bool) {
	if len(buf) < HeaderSize {
		return packet{}, false
	}

	length := binary.BigEndian.Uint32(buf[12:16])
	if int(length) != len(buf)-HeaderSize {
		return packet{}, false
	}

	payload := buf[HeaderSize:]
	want := integrityDigest(buf[:16], payload)
	got := buf[16:20]
	for i := range want {
		if want[i] != got[i] {
			return packet{}, false
		}
	}

	p := packet{
		version:  buf[0],
		flags:    buf[1],
		connHint: binary.BigEndian.Uint16(buf[2:4]),
		seq:      binary.BigEndian.Uint32(buf[4:8]),
		ack:      binary.BigEndian.Uint32(buf[8:12]),
		length:   length,
	}
	if len(payload) > 0 {
		p.payload = append([]byte(nil), payload...)
	}
	return p, true
}
