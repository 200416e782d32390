package mqtt

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// Encoding errors.
var (
	ErrStringTooLong      = errors.New("string exceeds maximum length of 65535 bytes")
	ErrBinaryTooLong      = errors.New("binary data exceeds maximum length of 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
	ErrVarintTooLarge     = errors.New("variable byte integer exceeds maximum value")
	ErrVarintMalformed    = errors.New("malformed variable byte integer")
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455
	maxVarintBytes    = 4
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

func writeByte(w io.Writer, b byte) (int, error) {
	return w.Write([]byte{b})
}

func readByte(r io.Reader) (byte, int, error) {
	var buf [1]byte
	n, err := io.ReadFull(r, buf[:])
	return buf[0], n, err
}

func writeUint16(w io.Writer, v uint16) (int, error) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return w.Write(buf[:])
}

func readUint16(r io.Reader) (uint16, int, error) {
	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint16(buf[:]), n, nil
}

func writeUint32(w io.Writer, v uint32) (int, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return w.Write(buf[:])
}

func readUint32(r io.Reader) (uint32, int, error) {
	var buf [4]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, n, err
	}
	return binary.BigEndian.Uint32(buf[:]), n, nil
}

// validateString reports whether s may travel as an MQTT UTF-8 string.
func validateString(s string) error {
	if len(s) > maxUint16 {
		return ErrStringTooLong
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	for i := range len(s) {
		if s[i] == 0 {
			return ErrStringContainsNull
		}
	}
	return nil
}

// encodeString writes a UTF-8 string with 2-byte length prefix to w.
func encodeString(w io.Writer, s string) (int, error) {
	if err := validateString(s); err != nil {
		return 0, err
	}

	n, err := writeUint16(w, uint16(len(s)))
	if err != nil {
		return n, err
	}

	n2, err := io.WriteString(w, s)
	return n + n2, err
}

// decodeString reads a UTF-8 string with 2-byte length prefix from r.
func decodeString(r io.Reader) (string, int, error) {
	buf, n, err := decodeBinary(r)
	if err != nil {
		return "", n, err
	}
	if len(buf) == 0 {
		return "", n, nil
	}

	s := string(buf)
	if !utf8.ValidString(s) {
		return "", n, ErrInvalidUTF8
	}
	for i := range len(buf) {
		if buf[i] == 0 {
			return "", n, ErrStringContainsNull
		}
	}

	return s, n, nil
}

// encodeBinary writes binary data with 2-byte length prefix to w.
func encodeBinary(w io.Writer, data []byte) (int, error) {
	if len(data) > maxUint16 {
		return 0, ErrBinaryTooLong
	}

	n, err := writeUint16(w, uint16(len(data)))
	if err != nil {
		return n, err
	}

	n2, err := w.Write(data)
	return n + n2, err
}

// decodeBinary reads binary data with 2-byte length prefix from r.
func decodeBinary(r io.Reader) ([]byte, int, error) {
	length, n, err := readUint16(r)
	if err != nil {
		return nil, n, err
	}
	if length == 0 {
		return nil, n, nil
	}

	buf := make([]byte, length)
	n2, err := io.ReadFull(r, buf)
	n += n2
	if err != nil {
		return nil, n, err
	}

	return buf, n, nil
}

// StringPair is a key-value string pair, used for MQTT 5 user properties.
type StringPair struct {
	Key   string
	Value string
}

func encodeStringPair(w io.Writer, pair StringPair) (int, error) {
	n, err := encodeString(w, pair.Key)
	if err != nil {
		return n, err
	}

	n2, err := encodeString(w, pair.Value)
	return n + n2, err
}

func decodeStringPair(r io.Reader) (StringPair, int, error) {
	key, n, err := decodeString(r)
	if err != nil {
		return StringPair{}, n, err
	}

	value, n2, err := decodeString(r)
	n += n2
	if err != nil {
		return StringPair{}, n, err
	}

	return StringPair{Key: key, Value: value}, n, nil
}

// appendVarint appends the base-128 encoding of value to dst.
func appendVarint(dst []byte, value uint32) ([]byte, error) {
	if value > maxVarint {
		return dst, ErrVarintTooLarge
	}

	for {
		b := byte(value & varintValueMask)
		value >>= 7
		if value > 0 {
			b |= varintContinueBit
		}
		dst = append(dst, b)
		if value == 0 {
			return dst, nil
		}
	}
}

// encodeVarint writes a variable byte integer to w.
func encodeVarint(w io.Writer, value uint32) (int, error) {
	var scratch [maxVarintBytes]byte
	buf, err := appendVarint(scratch[:0], value)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

// decodeVarint reads a variable byte integer from r. A fifth byte is never
// read: a continuation bit on the fourth byte is reported as malformed.
func decodeVarint(r io.Reader) (uint32, int, error) {
	var value uint32
	var shift uint
	read := 0

	for {
		b, n, err := readByte(r)
		read += n
		if err != nil {
			return 0, read, err
		}

		value |= uint32(b&varintValueMask) << shift

		if b&varintContinueBit == 0 {
			return value, read, nil
		}

		if read == maxVarintBytes {
			return 0, read, ErrVarintMalformed
		}
		shift += 7
	}
}

// varintSize returns the number of bytes needed to encode value.
func varintSize(value uint32) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	default:
		return 4
	}
}
