package bencode

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	jackpal "github.com/jackpal/bencode-go"
	zeebo "github.com/zeebo/bencode"
)

func encodeAndAssert(t *testing.T, expected string, input Value) {
	t.Helper()
	encoded, err := Encode(input)
	if err != nil {
		t.Fatalf("Encode(%#v): %v", input, err)
	}
	if string(encoded) != expected {
		t.Errorf("Encode(%#v) = %q, want %q", input, encoded, expected)
	}
}

func TestEncodeInteger(t *testing.T) {
	encodeAndAssert(t, "i123e", Integer(123))
	encodeAndAssert(t, "i-123e", Integer(-123))
	encodeAndAssert(t, "i0e", Integer(0))
	encodeAndAssert(t, "i4294967300e", Integer(4294967300))
}

func TestEncodeString(t *testing.T) {
	encodeAndAssert(t, "5:hello", String("hello"))
	encodeAndAssert(t, "0:", String(""))
	encodeAndAssert(t, "2:\x00\xff", String("\x00\xff"))
}

func TestEncodeList(t *testing.T) {
	encodeAndAssert(t, "li1ei2ei3ee", List{Integer(1), Integer(2), Integer(3)})
	encodeAndAssert(t, "le", List{})
	encodeAndAssert(t, "lli1eel9:test testelee", List{List{Integer(1)}, List{String("test test")}, List{}})
}

func TestEncodeDictionarySortsKeys(t *testing.T) {
	encodeAndAssert(t, "de", Dict{})
	encodeAndAssert(t, "d6:applesi4e5:hello5:worlde", Dict{
		"hello":  String("world"),
		"apples": Integer(4),
	})
	encodeAndAssert(t, "d4:dictd9:space keyi4eee", Dict{
		"dict": Dict{"space key": Integer(4)},
	})
	// raw byte order: "B" < "a" < "ab" < "\x80"
	encodeAndAssert(t, "d1:Bi1e1:ai2e2:abi3e1:\x80i4ee", Dict{
		"\x80": Integer(4),
		"ab":   Integer(3),
		"a":    Integer(2),
		"B":    Integer(1),
	})
}

func TestEncodeNegativeZeroIsCanonical(t *testing.T) {
	v, err := Decode([]byte("i-0e"))
	if err != nil {
		t.Fatal(err)
	}
	encodeAndAssert(t, "i0e", v)

	v, err = Decode([]byte("i-007e"))
	if err != nil {
		t.Fatal(err)
	}
	encodeAndAssert(t, "i-7e", v)
}

func TestEncodeRejectsNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("Encode(nil) succeeded")
	}
	if _, err := Encode(List{nil}); err == nil {
		t.Error("Encode(List{nil}) succeeded")
	}
}

func TestRoundTrip(t *testing.T) {
	values := []Value{
		String("apple"),
		String(""),
		String("\x00\x01\xfe\xff"),
		Integer(-52),
		Integer(-9223372036854775808),
		List{},
		List{String("a"), Integer(1), List{Dict{}}},
		Dict{
			"announce": String("http://tracker/announce"),
			"info": Dict{
				"name":         String("sample.txt"),
				"length":       Integer(92063),
				"piece length": Integer(32768),
				"pieces":       String(bytes.Repeat([]byte{0xab}, 40)),
				"private":      Integer(1),
			},
			"url-list": List{String("http://a"), String("http://b")},
		},
	}

	for _, v := range values {
		encoded, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", v, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%q): %v", encoded, err)
		}
		if !reflect.DeepEqual(decoded, v) {
			t.Errorf("round trip of %q = %#v, want %#v", encoded, decoded, v)
		}
		again, err := Encode(decoded)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(again, encoded) {
			t.Errorf("re-encoding changed bytes: %q != %q", again, encoded)
		}
	}
}

// The encoder must agree byte for byte with independent implementations.
func TestEncodeMatchesZeebo(t *testing.T) {
	native := map[string]interface{}{
		"zeta":  "last",
		"alpha": int64(-3),
		"mid": map[string]interface{}{
			"y": "2",
			"x": int64(1),
		},
		"list": []interface{}{"one", int64(2)},
	}
	want, err := zeebo.EncodeBytes(native)
	if err != nil {
		t.Fatalf("zeebo.EncodeBytes: %v", err)
	}

	got, err := Encode(Dict{
		"zeta":  String("last"),
		"alpha": Integer(-3),
		"mid":   Dict{"y": String("2"), "x": Integer(1)},
		"list":  List{String("one"), Integer(2)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = %q, zeebo = %q", got, want)
	}
}

func TestDecodeMatchesJackpal(t *testing.T) {
	var buf bytes.Buffer
	err := jackpal.Marshal(&buf, map[string]interface{}{
		"interval":   int64(60),
		"complete":   int64(3),
		"peers":      "\xb2\x3e\x52\x59\xc9\x0e",
		"tracker id": "abc",
	})
	if err != nil {
		t.Fatalf("jackpal.Marshal: %v", err)
	}

	v, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode(%q): %v", buf.Bytes(), err)
	}
	want := Dict{
		"interval":   Integer(60),
		"complete":   Integer(3),
		"peers":      String("\xb2\x3e\x52\x59\xc9\x0e"),
		"tracker id": String("abc"),
	}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("Decode = %#v, want %#v", v, want)
	}

	encoded, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(encoded, buf.Bytes()) {
		t.Errorf("Encode = %q, jackpal = %q", encoded, buf.Bytes())
	}
}

func TestToJSON(t *testing.T) {
	v, err := Decode([]byte("d3:foo5:apple5:helloi52e4:listl1:ai-1eee"))
	if err != nil {
		t.Fatal(err)
	}
	j, err := ToJSON(v)
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	out, err := json.Marshal(j)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"foo":"apple","hello":52,"list":["a",-1]}`; string(out) != want {
		t.Errorf("json = %s, want %s", out, want)
	}

	if _, err := ToJSON(List{String("\xff")}); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("ToJSON on binary string: got %v", err)
	}
}
