package torrent

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	jackpal "github.com/jackpal/bencode-go"

	"github.com/wtlin1228/bittorrent/bencode"
)

// --------------------------------------------------------------------------------------------- //

// InfoHash is the SHA-1 digest of the canonical encoding of a torrent's info dictionary.
type InfoHash [20]byte

// Hex returns the hash as 40 lowercase hex characters.
func (h InfoHash) Hex() string { return hex.EncodeToString(h[:]) }

func (h InfoHash) String() string { return h.Hex() }

// URLEncoded percent-encodes every byte of the hash, including printable ones.
func (h InfoHash) URLEncoded() string {
	return percentEncodeAll(h[:])
}

// ParseInfoHash reads a 40-character hex info hash.
func ParseInfoHash(s string) (InfoHash, error) {
	var h InfoHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse info hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("parse info hash: got %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

func percentEncodeAll(b []byte) string {
	const hexDigits = "0123456789abcdef"

	var sb strings.Builder
	sb.Grow(3 * len(b))
	for _, c := range b {
		sb.WriteByte('%')
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

// --------------------------------------------------------------------------------------------- //

/*
ComputeInfoHash computes the info hash of the torrent.

The decoded "info" dictionary is re-encoded canonically, so keys the
client does not model still contribute to the hash. Metadata assembled by hand
(without a decoded source) is hashed from its four Info fields.

Parameters:
  - m: Metadata returned by Extract or Parse, or built by hand.

Returns:
  - InfoHash: SHA-1 of the canonical bencoding of the info dictionary.
  - error: Non-nil if the info dictionary cannot be encoded.
*/
func ComputeInfoHash(m *Metadata) (InfoHash, error) {
	info := m.rawInfo
	if info == nil {
		info = bencode.Dict{
			"name":         bencode.String(m.Info.Name),
			"length":       bencode.Integer(m.Info.Length),
			"piece length": bencode.Integer(m.Info.PieceLength),
			"pieces":       bencode.String(m.Info.Pieces),
		}
	}

	encoded, err := bencode.Encode(info)
	if err != nil {
		return InfoHash{}, fmt.Errorf("encoding info dictionary: %w", err)
	}

	return sha1.Sum(encoded), nil
}

// --------------------------------------------------------------------------------------------- //

/*
Parse decodes the contents of a .torrent file into Metadata.

Parameters:
  - data: Raw bytes of the .torrent file.

Returns:
  - *Metadata: Parsed metadata, including optional extras when they are well formed.
  - error: A *bencode.SyntaxError for malformed bencoding or a *FieldError for a structural problem.
*/
func Parse(data []byte) (*Metadata, error) {
	v, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding torrent: %w", err)
	}

	meta, err := Extract(v)
	if err != nil {
		return nil, fmt.Errorf("reading torrent: %w", err)
	}

	extras, err := parseExtras(data)
	if err != nil {
		slog.Warn("ignoring malformed optional torrent fields", "error", err)
	} else {
		meta.Extras = extras
	}

	slog.Debug("parsed torrent", "name", meta.Info.Name, "announce", meta.Announce,
		"length", meta.Info.Length, "pieces", meta.NumPieces())

	return meta, nil
}

/*
Open reads and parses a .torrent file from disk.

Parameters:
  - path: Path to the .torrent file.

Returns:
  - *Metadata: Parsed metadata.
  - error: Non-nil if the file cannot be read or parsed.
*/
func Open(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %q: %w", path, err)
	}

	meta, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return meta, nil
}

// parseExtras decodes the descriptive keys with struct tags. The keys are
// optional, so absent ones stay at their zero value.
func parseExtras(data []byte) (Extras, error) {
	var extras Extras
	if err := jackpal.Unmarshal(bytes.NewReader(data), &extras); err != nil {
		return Extras{}, err
	}
	return extras, nil
}

// --------------------------------------------------------------------------------------------- //
