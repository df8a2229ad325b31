// Package frame defines the decoded-frame wire record and the 40-bit
// code word layout shared by the demodulator and the signal generator.
//
// A code word carries four bytes as eight nibbles. Every nibble is followed by
// the complement of its last bit so the tag never holds a level for more than
// five symbols; receivers ignore that bit. The first nibble is the 0xA
// preamble, the last byte is the CRC-8-CCITT of the preceding three, leaving
// 20 data bits per frame.
//
// Not every data word survives the demodulator. A nibble of 0000 or 1111
// that follows a stuffing bit of the same level forms a run of five equal
// symbols, and the demodulator reseeds both decision references after four,
// so the symbol that ends the run is sliced wrongly and the checksum fails.
// 0xFFFFF and 0xF2330 are two such words. Decodable reports which words are
// safe to send.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xiaogaogaoxiao/anyscatter/internal/crc"
)

const (
	// Size is the length of a marshalled Record in bytes.
	Size = 8

	// PayloadSize is the number of payload bytes per frame.
	PayloadSize = 4

	// CodeBits is the length of a code word in symbols.
	CodeBits = 40

	// PreambleNibble occupies the high nibble of the first payload byte.
	PreambleNibble = 0xA

	// DataBits is the number of free data bits per frame.
	DataBits = 20

	nibbleBits = 4
	groupBits  = nibbleBits + 1
	dataMask   = 1<<DataBits - 1
)

// ErrRecordSize is returned when unmarshalling a buffer of the wrong length.
var ErrRecordSize = errors.New("frame: record must be 8 bytes")

// Record is one accepted frame as published to subscribers.
type Record struct {
	Payload     [PayloadSize]byte
	Channel     uint16
	NumAntennas uint16
}

// AppendBinary appends the wire form of r to b: payload, then channel index
// and antenna count as little-endian uint16.
func (r Record) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, r.Payload[:]...)
	b = binary.LittleEndian.AppendUint16(b, r.Channel)
	b = binary.LittleEndian.AppendUint16(b, r.NumAntennas)
	return b, nil
}

// MarshalBinary returns the 8-byte wire form of r.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, Size))
}

// UnmarshalBinary decodes an 8-byte wire record.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) != Size {
		return fmt.Errorf("%w: got %d", ErrRecordSize, len(data))
	}
	copy(r.Payload[:], data[:PayloadSize])
	r.Channel = binary.LittleEndian.Uint16(data[4:6])
	r.NumAntennas = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// String renders the record as "A1 23 45 6E | 0": payload bytes, then channel.
func (r Record) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X | %d", r.Payload[0], r.Payload[1], r.Payload[2], r.Payload[3], r.Channel)
}

// Valid reports whether the payload carries the preamble nibble and a
// matching checksum.
func (r Record) Valid() bool {
	return r.Payload[0]>>nibbleBits == PreambleNibble && crc.CCITT.Valid(r.Payload[:])
}

// Build packs 20 data bits behind the preamble nibble and appends the
// checksum byte.
func Build(data uint32) (payload [PayloadSize]byte) {
	data &= dataMask
	payload[0] = PreambleNibble<<nibbleBits | byte(data>>16)
	payload[1] = byte(data >> 8)
	payload[2] = byte(data)
	payload[3] = crc.CCITT.Checksum(payload[:3])
	return payload
}

// Data extracts the 20 data bits from a payload built by Build.
func Data(payload [PayloadSize]byte) uint32 {
	return (uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2])) & dataMask
}

// Encode expands a payload into its 40 code bits, one bit per byte, in
// transmission order.
func Encode(payload [PayloadSize]byte) []byte {
	code := make([]byte, 0, CodeBits)
	for _, b := range payload {
		for _, nibble := range [2]byte{b >> nibbleBits, b & 0x0F} {
			var last byte
			for i := nibbleBits - 1; i >= 0; i-- {
				last = nibble >> i & 1
				code = append(code, last)
			}
			code = append(code, last^1)
		}
	}
	return code
}

// LongestRun returns the length of the longest run of equal symbols in code.
func LongestRun(code []byte) int {
	longest, run := 0, 0
	for i, bit := range code {
		if i > 0 && bit == code[i-1] {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
	}
	return longest
}

// Decodable reports whether the code word for data stays below a run of
// five equal symbols, the longest run the demodulator can slice.
func Decodable(data uint32) bool {
	return LongestRun(Encode(Build(data))) < groupBits
}

// Bits packs code bits MSB-first, so the first transmitted bit of a full
// code word lands in bit 39.
func Bits(code []byte) (reg uint64) {
	for _, bit := range code {
		reg = reg<<1 | uint64(bit&1)
	}
	return reg
}

// Decode extracts the payload from a 40-bit shift register. It reports
// whether a preamble (normal or inverted) was present and whether the
// payload passed the checksum.
func Decode(reg uint64) (payload [PayloadSize]byte, flipped, preamble, ok bool) {
	test := func(bit int) byte { return byte(reg >> bit & 1) }

	switch {
	case test(39) == 1 && test(38) == 0 && test(37) == 1 && test(36) == 0 && test(35) == 1:
		flipped = false
	case test(39) == 0 && test(38) == 1 && test(37) == 0 && test(36) == 1 && test(35) == 0:
		flipped = true
	default:
		return payload, false, false, false
	}

	var flip byte
	if flipped {
		flip = 1
	}

	for i := range payload {
		var b byte
		hi := CodeBits - 1 - i*2*groupBits
		lo := hi - groupBits
		for j := 0; j < nibbleBits; j++ {
			b = b<<1 | (flip ^ test(hi-j))
		}
		for j := 0; j < nibbleBits; j++ {
			b = b<<1 | (flip ^ test(lo-j))
		}
		payload[i] = b
	}

	return payload, flipped, true, crc.CCITT.Valid(payload[:])
}
