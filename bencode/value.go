// Package bencode implements the BitTorrent bencoding format.
//
// Decoding is strict about structure and never indexes past the end of its
// input. Encoding always produces canonical output: dictionary keys sorted by
// raw byte value, integers in plain decimal.
package bencode

import "fmt"

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindList
	KindDict

	// KindNil stands for a missing Value. No decoded value has it.
	KindNil Kind = -1
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindList:
		return "list"
	case KindDict:
		return "dictionary"
	case KindNil:
		return "nil"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one node of a decoded bencode tree. It is always one of String,
// Integer, List or Dict.
type Value interface {
	Kind() Kind
}

// String is a raw byte string. It is not guaranteed to be valid UTF-8.
type String []byte

// Integer is a signed 64-bit bencode integer.
type Integer int64

// List is an ordered sequence of values.
type List []Value

// Dict maps raw byte-string keys to values. Key order is not retained;
// Encode sorts keys.
type Dict map[string]Value

func (String) Kind() Kind  { return KindString }
func (Integer) Kind() Kind { return KindInteger }
func (List) Kind() Kind    { return KindList }
func (Dict) Kind() Kind    { return KindDict }

// Text returns the string as text, failing when it is not valid UTF-8.
func (s String) Text() (string, error) {
	if !validUTF8(s) {
		return "", ErrInvalidUTF8
	}
	return string(s), nil
}

// Lookup returns the value stored under key and whether it was present.
func (d Dict) Lookup(key string) (Value, bool) {
	v, ok := d[key]
	return v, ok
}
