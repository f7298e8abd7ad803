package bencode

import (
	"errors"
	"strconv"
)

// MaxDepth bounds how deeply lists and dictionaries may nest.
const MaxDepth = 1024

const (
	tokenInteger   = 'i'
	tokenList      = 'l'
	tokenDict      = 'd'
	tokenEnd       = 'e'
	tokenSeparator = ':'
)

type decoder struct {
	buf   []byte
	depth int
}

// Decode decodes exactly one value spanning all of buf.
func Decode(buf []byte) (Value, error) {
	v, n, err := DecodeAt(buf, 0)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, syntaxError(n, ErrTrailingData, "%d unread bytes", len(buf)-n)
	}
	return v, nil
}

// DecodeAt decodes one value starting at off and reports how many bytes it
// consumed. Byte strings in the result share memory with buf.
func DecodeAt(buf []byte, off int) (Value, int, error) {
	if off < 0 || off > len(buf) {
		return nil, 0, syntaxError(off, ErrUnexpectedEOF, "start offset outside input")
	}
	d := &decoder{buf: buf}
	v, end, err := d.value(off)
	if err != nil {
		return nil, 0, err
	}
	return v, end - off, nil
}

func (d *decoder) value(pos int) (Value, int, error) {
	if pos >= len(d.buf) {
		return nil, pos, syntaxError(pos, ErrUnexpectedEOF, "expected value")
	}
	switch d.buf[pos] {
	case tokenInteger:
		return d.integer(pos)
	case tokenList:
		return d.list(pos)
	case tokenDict:
		return d.dict(pos)
	default:
		return d.str(pos)
	}
}

// str decodes <length>:<bytes>.
func (d *decoder) str(pos int) (Value, int, error) {
	colon := pos
	for colon < len(d.buf) && d.buf[colon] != tokenSeparator {
		if !isDigit(d.buf[colon]) {
			return nil, pos, syntaxError(colon, ErrInvalidDigit, "unexpected byte %q in string length", d.buf[colon])
		}
		colon++
	}
	if colon >= len(d.buf) {
		return nil, pos, syntaxError(colon, ErrUnexpectedEOF, "missing ':' after string length")
	}
	if colon == pos {
		return nil, pos, syntaxError(pos, ErrInvalidDigit, "empty string length")
	}

	length, err := strconv.ParseUint(string(d.buf[pos:colon]), 10, 63)
	if err != nil {
		return nil, pos, syntaxError(pos, ErrInvalidLength, "string length %s out of range", d.buf[pos:colon])
	}

	start := colon + 1
	remaining := uint64(len(d.buf) - start)
	if length > remaining {
		return nil, pos, syntaxError(pos, ErrInvalidLength, "declared %d bytes, %d available", length, remaining)
	}
	end := start + int(length)
	return String(d.buf[start:end:end]), end, nil
}

// integer decodes i<digits>e. Leading zeros and -0 are accepted.
func (d *decoder) integer(pos int) (Value, int, error) {
	start := pos + 1
	end := start
	for end < len(d.buf) && d.buf[end] != tokenEnd {
		end++
	}
	if end >= len(d.buf) {
		return nil, pos, syntaxError(pos, ErrUnexpectedEOF, "unterminated integer")
	}

	digits := d.buf[start:end]
	body := digits
	if len(body) > 0 && body[0] == '-' {
		body = body[1:]
	}
	if len(body) == 0 {
		return nil, pos, syntaxError(start, ErrInvalidDigit, "empty integer")
	}
	for i, c := range body {
		if !isDigit(c) {
			return nil, pos, syntaxError(end-len(body)+i, ErrInvalidDigit, "unexpected byte %q in integer", c)
		}
	}

	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return nil, pos, syntaxError(start, ErrInvalidDigit, "integer %s overflows 64 bits", digits)
		}
		return nil, pos, syntaxError(start, ErrInvalidDigit, "%v", err)
	}
	return Integer(n), end + 1, nil
}

func (d *decoder) list(pos int) (Value, int, error) {
	if err := d.enter(pos); err != nil {
		return nil, pos, err
	}
	defer d.leave()

	items := List{}
	next := pos + 1
	for {
		if next >= len(d.buf) {
			return nil, pos, syntaxError(next, ErrUnexpectedEOF, "unterminated list")
		}
		if d.buf[next] == tokenEnd {
			return items, next + 1, nil
		}
		item, end, err := d.value(next)
		if err != nil {
			return nil, pos, err
		}
		items = append(items, item)
		next = end
	}
}

func (d *decoder) dict(pos int) (Value, int, error) {
	if err := d.enter(pos); err != nil {
		return nil, pos, err
	}
	defer d.leave()

	dict := Dict{}
	next := pos + 1
	for {
		if next >= len(d.buf) {
			return nil, pos, syntaxError(next, ErrUnexpectedEOF, "unterminated dictionary")
		}
		switch d.buf[next] {
		case tokenEnd:
			return dict, next + 1, nil
		case tokenInteger, tokenList, tokenDict:
			return nil, pos, syntaxError(next, ErrNonStringKey, "key starts with %q", d.buf[next])
		}

		key, end, err := d.str(next)
		if err != nil {
			return nil, pos, err
		}
		val, end, err := d.value(end)
		if err != nil {
			return nil, pos, err
		}
		dict[string(key.(String))] = val
		next = end
	}
}

func (d *decoder) enter(pos int) error {
	d.depth++
	if d.depth > MaxDepth {
		return syntaxError(pos, ErrNestingTooDeep, "more than %d levels", MaxDepth)
	}
	return nil
}

func (d *decoder) leave() { d.depth-- }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
