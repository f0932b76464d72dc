package packet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pingsantohq/stamp/internal/ntp"
)

func TestSenderRoundTrip(t *testing.T) {
	in := SenderPacket{
		Seq:           0xdeadbeef,
		Timestamp:     ntp.Timestamp{Seconds: 3900000000, Fraction: 0x12345678},
		ErrorEstimate: ntp.DefaultErrorEstimate,
	}
	wire := in.Encode()
	out, err := ParseSender(wire[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Fatalf("expected %+v got %+v", in, out)
	}
}

func TestSenderOffsets(t *testing.T) {
	wire := SenderPacket{
		Seq:           0x01020304,
		Timestamp:     ntp.Timestamp{Seconds: 0x05060708, Fraction: 0x090a0b0c},
		ErrorEstimate: 0x0d0e,
	}.Encode()
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	if !bytes.Equal(wire[:14], want) {
		t.Fatalf("expected header %v got %v", want, wire[:14])
	}
	if !bytes.Equal(wire[14:], make([]byte, 30)) {
		t.Fatalf("expected zero mbz got %v", wire[14:])
	}
	if len(wire) != BaseSize {
		t.Fatalf("expected %d bytes got %d", BaseSize, len(wire))
	}
}

func TestReflectorRoundTrip(t *testing.T) {
	in := ReflectorPacket{
		Seq:                 7,
		Timestamp:           ntp.Timestamp{Seconds: 3, Fraction: 4},
		ErrorEstimate:       ntp.DefaultErrorEstimate,
		ReceiveTimestamp:    ntp.Timestamp{Seconds: 1, Fraction: 2},
		SenderSeq:           7,
		SenderTimestamp:     ntp.Timestamp{Seconds: 5, Fraction: 6},
		SenderErrorEstimate: 0x4001,
		SenderTTL:           64,
	}
	wire := in.Encode()
	out, err := ParseReflector(wire[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Fatalf("expected %+v got %+v", in, out)
	}
}

func TestReflectorOffsets(t *testing.T) {
	wire := ReflectorPacket{
		Seq:                 0x01010101,
		Timestamp:           ntp.Timestamp{Seconds: 0x02020202, Fraction: 0x03030303},
		ErrorEstimate:       0x0404,
		ReceiveTimestamp:    ntp.Timestamp{Seconds: 0x05050505, Fraction: 0x06060606},
		SenderSeq:           0x07070707,
		SenderTimestamp:     ntp.Timestamp{Seconds: 0x08080808, Fraction: 0x09090909},
		SenderErrorEstimate: 0x0a0a,
		SenderTTL:           0x0b,
	}.Encode()

	expect := map[int]byte{
		0: 1, 3: 1, 4: 2, 7: 2, 8: 3, 11: 3, 12: 4, 13: 4,
		14: 0, 15: 0,
		16: 5, 19: 5, 20: 6, 23: 6, 24: 7, 27: 7, 28: 8, 31: 8, 32: 9, 35: 9,
		36: 10, 37: 10, 38: 0, 39: 0, 40: 11, 41: 0, 42: 0, 43: 0,
	}
	for off, v := range expect {
		if wire[off] != v {
			t.Fatalf("offset %d: expected %#x got %#x", off, v, wire[off])
		}
	}
}

func TestParseSizeBoundaries(t *testing.T) {
	if _, err := ParseSender(make([]byte, BaseSize-1)); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort for 43 bytes got %v", err)
	}
	if _, err := ParseReflector(make([]byte, BaseSize-1)); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort for 43 bytes got %v", err)
	}
	if _, err := ParseSender(make([]byte, BaseSize)); err != nil {
		t.Fatalf("expected 44 bytes to decode got %v", err)
	}
	big := make([]byte, MaxSize)
	big[3] = 9
	p, err := ParseSender(big)
	if err != nil {
		t.Fatalf("expected max size to decode got %v", err)
	}
	if p.Seq != 9 {
		t.Fatalf("expected seq 9 got %d", p.Seq)
	}
}
