package bencode

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Encode returns the bencoding of value. Dictionary keys are written in
// dictionary order and are not sorted.
func Encode(value Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes the bencoding of value to w.
func EncodeTo(w io.Writer, value Value) error {
	var buf bytes.Buffer
	if err := encodeValue(&buf, value); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func encodeValue(buf *bytes.Buffer, value Value) error {
	switch v := value.(type) {
	case Int:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(int64(v), 10))
		buf.WriteByte('e')
	case String:
		writeString(buf, v)
	case List:
		buf.WriteByte('l')
		for _, item := range v {
			if err := encodeValue(buf, item); err != nil {
				return fmt.Errorf("failed to encode list item: %w", err)
			}
		}
		buf.WriteByte('e')
	case *Dict:
		if v == nil {
			return fmt.Errorf("cannot encode nil dictionary")
		}
		buf.WriteByte('d')
		for _, key := range v.keys {
			writeString(buf, []byte(key))
			if err := encodeValue(buf, v.values[key]); err != nil {
				return fmt.Errorf("failed to encode dictionary value %q: %w", key, err)
			}
		}
		buf.WriteByte('e')
	default:
		return fmt.Errorf("unsupported value for bencode encoding: %T", value)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s []byte) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.Write(s)
}
