// Package codec holds the bit and byte conversions shared by the JEDEC
// parser and the transport encoders.
//
// JEDEC data lines are ASCII '0'/'1' strings. They are packed LSB-first into
// 32-bit words, which is the order the JTAG shift engine consumes them in.
// The I2C configuration port expects the same page with the bit order of
// every byte reversed.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

// ErrLengthMismatch is returned when fewer bits were consumed than declared.
var ErrLengthMismatch = errors.New("codec: bit length mismatch")

// WordBits is the number of bits packed into one word.
const WordBits = 32

// PackBits packs length ASCII bits from ascii into 32-bit words, LSB-first.
// Packing stops at the first character that is not '0' or '1'; if that
// happens before length bits were consumed the result is ErrLengthMismatch.
func PackBits(ascii []byte, length int) ([]uint32, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrLengthMismatch, length)
	}
	words := make([]uint32, (length+WordBits-1)/WordBits)
	consumed := 0
	for consumed < length && consumed < len(ascii) {
		bit := ascii[consumed] - '0'
		if bit > 1 {
			break
		}
		words[consumed/WordBits] |= uint32(bit) << (consumed % WordBits)
		consumed++
	}
	if consumed != length {
		return nil, fmt.Errorf("%w: consumed %d of %d bits", ErrLengthMismatch, consumed, length)
	}
	return words, nil
}

// BytesToU32BE decodes a big-endian 32-bit value.
func BytesToU32BE(b [4]byte) uint32 {
	return binary.BigEndian.Uint32(b[:])
}

// U32ToBytesBE encodes v big-endian.
func U32ToBytesBE(v uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// ByteSwap reverses the byte order of a 32-bit word.
func ByteSwap(v uint32) uint32 {
	return bits.ReverseBytes32(v)
}

// ReverseBitsInBytes mirrors the bit order of every byte of buf in place.
// Applying it twice restores the input.
func ReverseBitsInBytes(buf []byte) {
	for i, b := range buf {
		buf[i] = bits.Reverse8(b)
	}
}

// WordsToBytes serializes words little-endian, the in-memory layout the
// device page transfers are built from.
func WordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// ByteSum adds every byte of buf.
func ByteSum(buf []byte) uint32 {
	var sum uint32
	for _, b := range buf {
		sum += uint32(b)
	}
	return sum
}
