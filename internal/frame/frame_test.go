package frame

import (
	"bytes"
	"testing"
)

func TestDataFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{"input", EncodeInput([]byte("ls -la\n"))},
		{"pause", EncodePause()},
		{"resume", EncodeResume()},
		{"output", EncodeOutput([]byte("hello\r\n"))},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			df, err := DecodeData(c.raw)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			roundTripped := EncodeData(df.Kind, df.Payload)
			if !bytes.Equal(roundTripped, c.raw) {
				t.Fatalf("round trip mismatch: got %x want %x", roundTripped, c.raw)
			}
		})
	}
}

func TestResizeFrameRoundTrip(t *testing.T) {
	raw, err := EncodeResize(120, 40)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	df, err := DecodeData(raw)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if df.Kind != KindResize {
		t.Fatalf("kind = %v, want KindResize", df.Kind)
	}
	p, err := DecodeResize(df.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.Cols != 120 || p.Rows != 40 {
		t.Fatalf("payload = %+v", p)
	}
}

func TestSnapshotFrameRoundTrip(t *testing.T) {
	want := SnapshotPayload{RequestID: "req-1", Screen: []byte("screen state"), Cols: 80, Rows: 24, CursorX: 3, CursorY: 1}
	raw, err := EncodeSnapshot(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	df, err := DecodeData(raw)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	got, err := DecodeSnapshot(df.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.RequestID != want.RequestID || !bytes.Equal(got.Screen, want.Screen) || got.Cols != want.Cols || got.CursorY != want.CursorY {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeDataEmptyFrame(t *testing.T) {
	if _, err := DecodeData(nil); err != ErrEmptyFrame {
		t.Fatalf("err = %v, want ErrEmptyFrame", err)
	}
}

func TestControlMessageRoundTrip(t *testing.T) {
	raw, err := EncodeStartTerminal("7421", 80, 24, "req-A")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	typ, err := DecodeControlType(raw)
	if err != nil {
		t.Fatalf("decode type: %v", err)
	}
	if typ != ControlStartTerminal {
		t.Fatalf("type = %q", typ)
	}
	msg, err := DecodeStartTerminal(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Name != "7421" || msg.Cols != 80 || msg.Rows != 24 || msg.RequestID != "req-A" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestDecodeControlTypeMalformed(t *testing.T) {
	if _, err := DecodeControlType([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed control line")
	}
	if _, err := DecodeControlType([]byte(`{}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestSetupDecodeValidation(t *testing.T) {
	if _, err := DecodeSetup([]byte(`{"type":"setup","action":"new","name":"x","cols":80,"rows":24}`)); err != nil {
		t.Fatalf("valid setup rejected: %v", err)
	}
	if _, err := DecodeSetup([]byte(`{"type":"setup","action":"bogus","name":"x"}`)); err == nil {
		t.Fatal("expected error for invalid action")
	}
	if _, err := DecodeSetup([]byte(`{"type":"setup","action":"new"}`)); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestDecodeViewerTypeRawBytes(t *testing.T) {
	if _, ok := DecodeViewerType([]byte{0x1b, 0x5b, 0x41}); ok {
		t.Fatal("raw escape bytes should not classify as a typed message")
	}
	typ, ok := DecodeViewerType([]byte(`{"type":"resize","cols":80,"rows":24}`))
	if !ok || typ != "resize" {
		t.Fatalf("typ=%q ok=%v", typ, ok)
	}
}
