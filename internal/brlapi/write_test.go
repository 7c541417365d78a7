package brlapi

import (
	"encoding/binary"
	"testing"
)

func TestDecodeWriteRequestTextOnly(t *testing.T) {
	text := []byte("hello")
	payload := make([]byte, 0, 4+2+len(text))
	flags := make([]byte, 4)
	binary.BigEndian.PutUint32(flags, uint32(WriteTextFlag))
	payload = append(payload, flags...)
	textLen := make([]byte, 2)
	binary.BigEndian.PutUint16(textLen, uint16(len(text)))
	payload = append(payload, textLen...)
	payload = append(payload, text...)

	req, err := decodeWriteRequest(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(req.Text) != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", req.Text)
	}
	if req.Flags&WriteRegionFlag != 0 {
		t.Fatalf("expected no region flag set")
	}
	if req.Cursor != NoCursor {
		t.Fatalf("expected default cursor sentinel, got %d", req.Cursor)
	}
}

func TestDecodeWriteRequestRegionAndCursor(t *testing.T) {
	var payload []byte
	flags := make([]byte, 4)
	binary.BigEndian.PutUint32(flags, uint32(WriteRegionFlag|WriteCursorFlag))
	payload = append(payload, flags...)
	region := make([]byte, 8)
	binary.BigEndian.PutUint32(region[0:4], 3)
	binary.BigEndian.PutUint32(region[4:8], 10)
	payload = append(payload, region...)
	cursor := make([]byte, 4)
	binary.BigEndian.PutUint32(cursor, 5)
	payload = append(payload, cursor...)

	req, err := decodeWriteRequest(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Begin != 3 || req.Size != 10 {
		t.Fatalf("unexpected region: begin=%d size=%d", req.Begin, req.Size)
	}
	if req.Cursor != 5 {
		t.Fatalf("expected cursor 5, got %d", req.Cursor)
	}
}

func TestDecodeWriteRequestTruncatedPayloadErrors(t *testing.T) {
	flags := make([]byte, 4)
	binary.BigEndian.PutUint32(flags, uint32(WriteRegionFlag))
	if _, err := decodeWriteRequest(flags); err == nil {
		t.Fatalf("expected error for missing region bytes")
	}
}
