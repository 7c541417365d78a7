package brlapi

import (
	"encoding/binary"

	"brld/internal/brlerr"
)

// WriteFlags marks which optional fields are present in a Write message's
// payload, mirroring BrlAPI's real wire layout: most writes only set a
// handful of fields, so the flags let short packets skip the rest.
type WriteFlags uint32

const (
	WriteRegionFlag WriteFlags = 1 << iota
	WriteTextFlag
	WriteAndMaskFlag
	WriteOrMaskFlag
	WriteCursorFlag
	WriteCharsetFlag
)

// WriteRequest is a decoded Write message.
type WriteRequest struct {
	Flags           WriteFlags
	Begin, Size     int
	Text            []byte
	AndMask, OrMask []byte
	Cursor          int
	Charset         string
}

// decodeWriteRequest parses a Write payload:
//
//	flags:u32 [begin:u32 size:u32] [textLen:u16 text] [andMask] [orMask]
//	[cursor:u32] [charsetLen:u8 charset]
//
// AndMask and OrMask, when present, are always textLen bytes long.
func decodeWriteRequest(payload []byte) (WriteRequest, error) {
	var req WriteRequest
	if len(payload) < 4 {
		return req, brlerr.New(brlerr.InvalidInput, "write payload too short for flags")
	}
	req.Flags = WriteFlags(binary.BigEndian.Uint32(payload[0:4]))
	req.Cursor = NoCursor
	off := 4

	need := func(n int) error {
		if off+n > len(payload) {
			return brlerr.New(brlerr.InvalidInput, "write payload truncated")
		}
		return nil
	}

	if req.Flags&WriteRegionFlag != 0 {
		if err := need(8); err != nil {
			return req, err
		}
		req.Begin = int(binary.BigEndian.Uint32(payload[off : off+4]))
		req.Size = int(binary.BigEndian.Uint32(payload[off+4 : off+8]))
		off += 8
	}

	textLen := 0
	if req.Flags&WriteTextFlag != 0 {
		if err := need(2); err != nil {
			return req, err
		}
		textLen = int(binary.BigEndian.Uint16(payload[off : off+2]))
		off += 2
		if err := need(textLen); err != nil {
			return req, err
		}
		req.Text = payload[off : off+textLen]
		off += textLen
	}

	if req.Flags&WriteAndMaskFlag != 0 {
		if err := need(textLen); err != nil {
			return req, err
		}
		req.AndMask = payload[off : off+textLen]
		off += textLen
	}

	if req.Flags&WriteOrMaskFlag != 0 {
		if err := need(textLen); err != nil {
			return req, err
		}
		req.OrMask = payload[off : off+textLen]
		off += textLen
	}

	if req.Flags&WriteCursorFlag != 0 {
		if err := need(4); err != nil {
			return req, err
		}
		req.Cursor = int(binary.BigEndian.Uint32(payload[off : off+4]))
		off += 4
	}

	if req.Flags&WriteCharsetFlag != 0 {
		if err := need(1); err != nil {
			return req, err
		}
		n := int(payload[off])
		off++
		if err := need(n); err != nil {
			return req, err
		}
		req.Charset = string(payload[off : off+n])
		off += n
	}

	return req, nil
}

// NoCursor mirrors braille.NoCursor for callers that only import brlapi.
const NoCursor = -1
