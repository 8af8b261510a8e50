package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, FrameSendPacket, []byte("ok")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got := buf.Bytes()[:HeaderSize]; !bytes.Equal(got, []byte{4, 0, 0, 0, 2}) {
		t.Fatalf("header = %x", got)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != FrameSendPacket {
		t.Fatalf("type mismatch: %v", out.Type)
	}
	if !bytes.Equal(out.Payload, []byte("ok")) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	hdr := AppendHeader(nil, FrameRecvPacket, MaxFramePayload+1)
	_, err := ReadFrame(bytes.NewReader(hdr))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("ReadFrame error = %v, want ErrFrameTooLarge", err)
	}
}

func TestParseHeaderShort(t *testing.T) {
	if _, _, err := ParseHeader([]byte{1, 0, 0}); err != ErrShortHeader {
		t.Fatalf("ParseHeader error = %v, want ErrShortHeader", err)
	}
	ft, n, err := ParseHeader([]byte{0x12, 0, 1, 0, 0, 0xff})
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if ft != FramePing || n != 65536 {
		t.Fatalf("ParseHeader = %v %d", ft, n)
	}
}

func TestFrameTypeString(t *testing.T) {
	if FrameServerKey.String() != "SERVER_KEY" {
		t.Fatalf("unexpected name %q", FrameServerKey.String())
	}
	for _, ft := range []FrameType{0x00, 0x0b, 0x0f, 0x16, 0x7f, 0xff} {
		if ft.Known() {
			t.Fatalf("%#x should be unknown", uint8(ft))
		}
	}
	for _, ft := range []FrameType{FrameServerKey, FrameForwardPacket, FrameWatchConns, FrameRestarting} {
		if !ft.Known() || ft.String() == "UNKNOWN" {
			t.Fatalf("%#x should be known", uint8(ft))
		}
	}
}
