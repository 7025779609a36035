package transport

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello, chatspace")
	buf := encode(FlagData, 7, 3, payload)

	p, ok := decode(buf)
	if !ok {
		t.Fatalf("decode rejected a freshly encoded packet")
	}
	if p.flags != FlagData {
		t.Errorf("flags = %#x, want %#x", p.flags, FlagData)
	}
	if p.seq != 7 {
		t.Errorf("seq = %d, want 7", p.seq)
	}
	if p.ack != 3 {
		t.Errorf("ack = %d, want 3", p.ack)
	}
	if string(p.payload) != string(payload) {
		t.Errorf("payload = %q, want %q", p.payload, payload)
	}
}

func TestEncodeDecodeEmptyPayload(t *testing.T) {
	buf := encode(FlagSyn, 0, 0, nil)
	p, ok := decode(buf)
	if !ok {
		t.Fatalf("decode rejected an empty-payload packet")
	}
	if len(p.payload) != 0 {
		t.Errorf("payload = %v, want empty", p.payload)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, ok := decode(make([]byte, HeaderSize-1))
	if ok {
		t.Fatalf("decode accepted a buffer shorter than the header")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	buf := encode(FlagData, 1, 0, []byte("abc"))
	buf = append(buf, 'x') // trailing byte not reflected in the length field
	_, ok := decode(buf)
	if ok {
		t.Fatalf("decode accepted a buffer whose length field disagrees with its size")
	}
}

func TestDecodeRejectsCorruptDigest(t *testing.T) {
	buf := encode(FlagData, 1, 0, []byte("abc"))
	buf[len(buf)-1] ^= 0xFF // flip a payload byte without updating the digest

	_, ok := decode(buf)
	if ok {
		t.Fatalf("decode accepted a packet with a mutated payload and stale digest")
	}
}

func TestDecodeRejectsCorruptHeader(t *testing.T) {
	buf := encode(FlagData, 1, 0, []byte("abc"))
	buf[4] ^= 0xFF // flip a byte of the sequence number

	_, ok := decode(buf)
	if ok {
		t.Fatalf("decode accepted a packet with a mutated header and stale digest")
	}
}
