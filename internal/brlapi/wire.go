// Package brlapi implements the wire protocol between the daemon and
// client applications: length-prefixed framing, the per-session read state
// machine, authentication, tty/raw session modes, and the parameter
// registry.
//
// Uses an explicit state machine with read errors classified before
// dispatch, the style a file-transfer protocol's framing would use,
// adapted here to BrlAPI's length+type+payload envelope.
package brlapi

import (
	"encoding/binary"

	"brld/internal/brlerr"
)

// MessageType identifies a BrlAPI packet's payload shape.
type MessageType uint32

const (
	Version MessageType = iota + 1
	Auth
	GetDriverName
	GetDisplaySize
	EnterTtyMode
	SetFocus
	LeaveTtyMode
	Key
	IgnoreKeyRanges
	AcceptKeyRanges
	Write
	EnterRawMode
	LeaveRawMode
	Packet
	SuspendDriver
	ResumeDriver
	ParamValue
	ParamRequest
	Synchronize
	Ack
	Error
	Exception
)

// MaxPacketSize bounds a single packet's payload; larger declared lengths
// push the session into the Discarding state.
const MaxPacketSize = 16 * 1024

// HeaderSize is the encoded size of the length+type header.
const HeaderSize = 8

// Header is the decoded `[length:u32 BE][type:u32 BE]` envelope.
type Header struct {
	Length uint32
	Type   MessageType
}

// EncodeHeader writes the header for a payload of the given length.
func EncodeHeader(msgType MessageType, payloadLen int) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(payloadLen))
	binary.BigEndian.PutUint32(buf[4:8], uint32(msgType))
	return buf
}

// DecodeHeader parses an 8-byte header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, brlerr.New(brlerr.InvalidInput, "short header")
	}
	return Header{
		Length: binary.BigEndian.Uint32(buf[0:4]),
		Type:   MessageType(binary.BigEndian.Uint32(buf[4:8])),
	}, nil
}

// EncodeMessage builds a full on-wire packet: header plus payload.
func EncodeMessage(msgType MessageType, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	copy(out, EncodeHeader(msgType, len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// KeyCode is the 64-bit wire representation of a key event: bits 63-32
// carry flag modifiers, 31-29 the type (command vs keysym), 28-16 the
// command block, 15-0 the operand.
type KeyCode uint64

const (
	keyFlagsShift   = 32
	keyTypeShift    = 29
	keyTypeMask     = 0x7
	keyBlockShift   = 16
	keyBlockMask    = 0x1FFF
	keyOperandMask  = 0xFFFF
)

// MakeKeyCode packs a key code from its component fields.
func MakeKeyCode(flags uint32, keyType uint8, block uint16, operand uint16) KeyCode {
	return KeyCode(uint64(flags)<<keyFlagsShift |
		uint64(keyType&keyTypeMask)<<keyTypeShift |
		uint64(block&keyBlockMask)<<keyBlockShift |
		uint64(operand))
}

func (k KeyCode) Flags() uint32   { return uint32(k >> keyFlagsShift) }
func (k KeyCode) Type() uint8     { return uint8((k >> keyTypeShift) & keyTypeMask) }
func (k KeyCode) Block() uint16   { return uint16((k >> keyBlockShift) & keyBlockMask) }
func (k KeyCode) Operand() uint16 { return uint16(k & keyOperandMask) }

// EncodeKeyCode writes a KeyCode as two big-endian u32 halves, matching
// the wire's "64-bit value transmitted as two big-endian u32 halves"
// convention.
func EncodeKeyCode(k KeyCode) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(k>>32))
	binary.BigEndian.PutUint32(buf[4:8], uint32(k))
	return buf
}

// DecodeKeyCode reverses EncodeKeyCode.
func DecodeKeyCode(buf []byte) (KeyCode, error) {
	if len(buf) < 8 {
		return 0, brlerr.New(brlerr.InvalidInput, "short key code")
	}
	hi := binary.BigEndian.Uint32(buf[0:4])
	lo := binary.BigEndian.Uint32(buf[4:8])
	return KeyCode(uint64(hi)<<32 | uint64(lo)), nil
}

// KeyRange is one (first, last, mask) triple from AcceptKeyRanges /
// IgnoreKeyRanges: a key code k is in range when (k &^ mask) == (first &^
// mask), for any k between first and last inclusive under that masking.
type KeyRange struct {
	First, Last, Mask KeyCode
}

// Matches reports whether code falls within r per the masked-equality
// rule in §4.8's key-range acceptance scenario.
func (r KeyRange) Matches(code KeyCode) bool {
	masked := code &^ r.Mask
	firstMasked := r.First &^ r.Mask
	if masked != firstMasked {
		return false
	}
	return code >= r.First && code <= r.Last
}
