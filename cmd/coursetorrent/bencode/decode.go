package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed is wrapped by every DecodeError.
var ErrMalformed = errors.New("malformed bencode")

// DecodeError describes where and why decoding stopped.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Reason, e.Offset)
}

func (e *DecodeError) Unwrap() error { return ErrMalformed }

func malformed(offset int, format string, args ...any) error {
	return &DecodeError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// Decode decodes a single bencoded value. The value must span the whole of
// data.
func Decode(data []byte) (Value, error) {
	value, end, err := decodeElement(data, 0)
	if err != nil {
		return nil, err
	}
	if end != len(data) {
		return nil, malformed(end, "%d bytes of trailing data", len(data)-end)
	}
	return value, nil
}

// DecodeFlatDictionary walks the top-level keys of a bencoded dictionary and
// returns the raw encoded bytes of each value without decoding them. The raw
// bytes are exactly the ones found in data, so they can be hashed.
func DecodeFlatDictionary(data []byte) (map[string][]byte, error) {
	if len(data) < 2 || data[0] != 'd' || data[len(data)-1] != 'e' {
		return nil, malformed(0, "input is not a dictionary")
	}

	result := make(map[string][]byte)
	pos := 1
	for {
		if pos >= len(data) {
			return nil, malformed(pos, "unterminated dictionary")
		}
		if data[pos] == 'e' {
			pos++
			break
		}
		key, valueStart, err := dictionaryKey(data, pos, result)
		if err != nil {
			return nil, err
		}
		valueEnd, err := elementEnd(data, valueStart)
		if err != nil {
			return nil, err
		}
		result[key] = bytes.Clone(data[valueStart:valueEnd])
		pos = valueEnd
	}
	if pos != len(data) {
		return nil, malformed(pos, "%d bytes of trailing data", len(data)-pos)
	}
	return result, nil
}

// decodeElement decodes the element starting at pos and returns it with the
// offset just past it. Every byte is visited once.
func decodeElement(data []byte, pos int) (Value, int, error) {
	if pos >= len(data) {
		return nil, 0, malformed(pos, "unexpected end of input")
	}
	switch c := data[pos]; {
	case c == 'i':
		return decodeInteger(data, pos)
	case c == 'l':
		return decodeList(data, pos)
	case c == 'd':
		return decodeDictionary(data, pos)
	case isDigit(c):
		return decodeString(data, pos)
	default:
		return nil, 0, malformed(pos, "unexpected byte %q", c)
	}
}

func decodeInteger(data []byte, pos int) (Value, int, error) {
	end, err := integerEnd(data, pos)
	if err != nil {
		return nil, 0, err
	}
	num, err := strconv.ParseInt(string(data[pos+1:end-1]), 10, 64)
	if err != nil {
		return nil, 0, malformed(pos, "integer out of range")
	}
	return Int(num), end, nil
}

func decodeString(data []byte, pos int) (Value, int, error) {
	end, err := stringEnd(data, pos)
	if err != nil {
		return nil, 0, err
	}
	colon := bytes.IndexByte(data[pos:end], ':')
	return String(bytes.Clone(data[pos+colon+1 : end])), end, nil
}

func decodeList(data []byte, pos int) (Value, int, error) {
	result := List{}
	start := pos
	pos++
	for {
		if pos >= len(data) {
			return nil, 0, malformed(start, "unterminated list")
		}
		if data[pos] == 'e' {
			return result, pos + 1, nil
		}
		value, next, err := decodeElement(data, pos)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, value)
		pos = next
	}
}

func decodeDictionary(data []byte, pos int) (Value, int, error) {
	result := &Dict{values: make(map[string]Value)}
	start := pos
	pos++
	for {
		if pos >= len(data) {
			return nil, 0, malformed(start, "unterminated dictionary")
		}
		if data[pos] == 'e' {
			return result, pos + 1, nil
		}
		key, valueStart, err := dictionaryKey(data, pos, result.values)
		if err != nil {
			return nil, 0, err
		}
		value, next, err := decodeElement(data, valueStart)
		if err != nil {
			return nil, 0, err
		}
		result.keys = append(result.keys, key)
		result.values[key] = value
		pos = next
	}
}

// dictionaryKey reads the key at pos and returns it with the offset of its
// value. Keys must be byte strings not already present in seen.
func dictionaryKey[V any](data []byte, pos int, seen map[string]V) (string, int, error) {
	if !isDigit(data[pos]) {
		return "", 0, malformed(pos, "dictionary key is not a string")
	}
	raw, keyEnd, err := decodeString(data, pos)
	if err != nil {
		return "", 0, err
	}
	key := string(raw.(String))
	if _, ok := seen[key]; ok {
		return "", 0, malformed(pos, "duplicate dictionary key %q", key)
	}
	if keyEnd >= len(data) || data[keyEnd] == 'e' {
		return "", 0, malformed(keyEnd, "missing value for key %q", key)
	}
	return key, keyEnd, nil
}

// elementEnd returns the offset just past the element that starts at pos.
func elementEnd(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return 0, malformed(pos, "unexpected end of input")
	}
	switch c := data[pos]; {
	case c == 'i':
		return integerEnd(data, pos)
	case c == 'l', c == 'd':
		return containerEnd(data, pos)
	case isDigit(c):
		return stringEnd(data, pos)
	default:
		return 0, malformed(pos, "unexpected byte %q", c)
	}
}

func integerEnd(data []byte, pos int) (int, error) {
	i := pos + 1
	if i < len(data) && data[i] == '-' {
		i++
	}
	digits := i
	for i < len(data) && isDigit(data[i]) {
		i++
	}
	if i >= len(data) {
		return 0, malformed(pos, "unterminated integer")
	}
	if data[i] != 'e' {
		return 0, malformed(i, "unexpected byte %q in integer", data[i])
	}
	if i == digits {
		return 0, malformed(pos, "integer without digits")
	}
	return i + 1, nil
}

func stringEnd(data []byte, pos int) (int, error) {
	i := pos
	for i < len(data) && isDigit(data[i]) {
		i++
	}
	if i >= len(data) || data[i] != ':' {
		return 0, malformed(pos, "string length not followed by ':'")
	}
	length, err := strconv.Atoi(string(data[pos:i]))
	if err != nil {
		return 0, malformed(pos, "invalid string length")
	}
	if length > len(data)-(i+1) {
		return 0, malformed(pos, "string of length %d exceeds input", length)
	}
	return i + 1 + length, nil
}

// containerEnd finds the matching 'e' of the list or dictionary at pos by
// counting brackets. Nested integers and strings are skipped whole, since
// their contents may contain bracket bytes.
func containerEnd(data []byte, pos int) (int, error) {
	depth := 1
	i := pos + 1
	for depth > 0 {
		if i >= len(data) {
			return 0, malformed(pos, "unterminated list or dictionary")
		}
		switch c := data[i]; {
		case c == 'l', c == 'd':
			depth++
			i++
		case c == 'e':
			depth--
			i++
		case c == 'i':
			end, err := integerEnd(data, i)
			if err != nil {
				return 0, err
			}
			i = end
		case isDigit(c):
			end, err := stringEnd(data, i)
			if err != nil {
				return 0, err
			}
			i = end
		default:
			return 0, malformed(i, "unexpected byte %q", c)
		}
	}
	return i, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
