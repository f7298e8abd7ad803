package bencode

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Encode returns the canonical encoding of v.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	switch v := v.(type) {
	case String:
		encodeString(buf, v)
	case Integer:
		buf.WriteByte(tokenInteger)
		buf.WriteString(strconv.FormatInt(int64(v), 10))
		buf.WriteByte(tokenEnd)
	case List:
		buf.WriteByte(tokenList)
		for _, item := range v {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(tokenEnd)
	case Dict:
		// sort.Strings compares bytewise, which is the canonical key order.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte(tokenDict)
		for _, k := range keys {
			encodeString(buf, String(k))
			if err := encodeValue(buf, v[k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		buf.WriteByte(tokenEnd)
	case nil:
		return fmt.Errorf("bencode: cannot encode nil value")
	default:
		return fmt.Errorf("bencode: cannot encode %T", v)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s String) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(tokenSeparator)
	buf.Write(s)
}
