package ipa

import (
	"bufio"
	"bytes"
	"testing"
)

func TestEncodeDecodeRSPRO(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x01, 0x02, 0x03}
	if err := WriteRSPRO(&buf, payload); err != nil {
		t.Fatalf("WriteRSPRO: %v", err)
	}

	env, err := ReadEnvelope(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if !env.IsRSPRO() {
		t.Fatalf("IsRSPRO() = false, want true")
	}
	if !bytes.Equal(env.Payload, payload) {
		t.Fatalf("Payload = %v, want %v", env.Payload, payload)
	}
}

func TestEncodeDecodeControl(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteControl(&buf, MsgPing); err != nil {
		t.Fatalf("WriteControl: %v", err)
	}

	env, err := ReadEnvelope(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	typ, ok := env.ControlType()
	if !ok {
		t.Fatal("ControlType() ok = false, want true")
	}
	if typ != MsgPing {
		t.Fatalf("ControlType() = %d, want %d", typ, MsgPing)
	}
}

func TestReadEnvelopeStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteControl(&buf, MsgPing); err != nil {
		t.Fatalf("WriteControl: %v", err)
	}
	if err := WriteRSPRO(&buf, []byte{0xAA}); err != nil {
		t.Fatalf("WriteRSPRO: %v", err)
	}

	r := bufio.NewReader(&buf)
	env1, err := ReadEnvelope(r)
	if err != nil {
		t.Fatalf("ReadEnvelope 1: %v", err)
	}
	if typ, _ := env1.ControlType(); typ != MsgPing {
		t.Fatalf("first envelope type = %d, want MsgPing", typ)
	}

	env2, err := ReadEnvelope(r)
	if err != nil {
		t.Fatalf("ReadEnvelope 2: %v", err)
	}
	if !env2.IsRSPRO() || !bytes.Equal(env2.Payload, []byte{0xAA}) {
		t.Fatalf("second envelope = %+v", env2)
	}
}

func TestReadEnvelopeShort(t *testing.T) {
	buf := bytes.NewReader([]byte{0x00, 0x01})
	if _, err := ReadEnvelope(bufio.NewReader(buf)); err == nil {
		t.Fatal("expected error for truncated envelope")
	}
}

func TestReadEnvelopeZeroLength(t *testing.T) {
	buf := bytes.NewReader([]byte{0x00, 0x00})
	if _, err := ReadEnvelope(bufio.NewReader(buf)); err == nil {
		t.Fatal("expected error for zero-length envelope")
	}
}
