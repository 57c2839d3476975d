package daemon

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/mopub/statsite"
)

// binaryMagicByte marks the start of every binary command, and is what a
// fresh connection is sniffed for to select the binary protocol.
const binaryMagicByte = 0xaa

const (
	// minBinaryHeaderSize covers magic, type, key length and set length.
	minBinaryHeaderSize = 6
	// maxBinaryHeaderSize covers magic, type, key length and a double value.
	maxBinaryHeaderSize = 12
)

var (
	errBadMagic      = errors.New("missing magic byte")
	errBadBinaryType = errors.New("unknown binary type code")
	errMissingNul    = errors.New("key is not NUL terminated")
)

// parseBinary frames at most one binary command off the buffer:
//
//	magic:u8 | metric_type:u8 | key_len:u16 | value:f64 | key
//	magic:u8 | 0x04:u8 | key_len:u16 | set_len:u16 | key | member
//
// Little-endian, packed. Records are consumed atomically: ok is false and
// nothing is consumed while the full record has not arrived. A framing
// error poisons the connection.
func parseBinary(b *streamBuffer) (statsite.Sample, bool, error) {
	head, ok := b.Peek(minBinaryHeaderSize)
	if !ok {
		return statsite.Sample{}, false, nil
	}
	if head[0] != binaryMagicByte {
		return statsite.Sample{}, false, errBadMagic
	}
	mtype, ok := statsite.TypeFromBinary(head[1])
	if !ok {
		return statsite.Sample{}, false, errBadBinaryType
	}
	keyLen := int(binary.LittleEndian.Uint16(head[2:4]))

	if mtype == statsite.SET {
		setLen := int(binary.LittleEndian.Uint16(head[4:6]))
		frame, ok := b.ReadN(minBinaryHeaderSize + keyLen + setLen)
		if !ok {
			return statsite.Sample{}, false, nil
		}
		key := frame[minBinaryHeaderSize : minBinaryHeaderSize+keyLen]
		member := frame[minBinaryHeaderSize+keyLen:]
		if keyLen == 0 || key[keyLen-1] != 0 {
			return statsite.Sample{}, false, errMissingNul
		}
		if setLen == 0 || member[setLen-1] != 0 {
			return statsite.Sample{}, false, errMissingNul
		}
		return statsite.Sample{
			Type:        statsite.SET,
			Name:        string(key[:keyLen-1]),
			StringValue: string(member[:setLen-1]),
		}, true, nil
	}

	frame, ok := b.ReadN(maxBinaryHeaderSize + keyLen)
	if !ok {
		return statsite.Sample{}, false, nil
	}
	key := frame[maxBinaryHeaderSize:]
	if keyLen == 0 || key[keyLen-1] != 0 {
		return statsite.Sample{}, false, errMissingNul
	}
	return statsite.Sample{
		Type:  mtype,
		Name:  string(key[:keyLen-1]),
		Value: math.Float64frombits(binary.LittleEndian.Uint64(frame[4:12])),
	}, true, nil
}
