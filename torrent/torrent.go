package torrent

import (
	"encoding/hex"
	"fmt"

	"github.com/wtlin1228/bittorrent/bencode"
)

// --------------------------------------------------------------------------------------------- //

const pieceHashLength = 20

/*
Metadata is the typed projection of a single-file .torrent dictionary.
It is built once per torrent file and never modified afterwards, so it can be
shared freely between concurrent tracker and peer operations.

Fields:
  - Announce: Tracker URL from the "announce" key.
  - Info: Typed fields of the "info" dictionary.
  - Extras: Optional descriptive keys outside "info" (announce-list, comment, ...).
*/
type Metadata struct {
	Announce string
	Info     Info
	Extras   Extras

	// rawInfo is the decoded "info" dictionary exactly as found in the file,
	// including keys Info does not model. It is what the info hash covers.
	rawInfo bencode.Dict
}

/*
Info holds the fields of the "info" dictionary the client relies on.

Fields:
  - Name: Suggested file name.
  - PieceLength: Number of bytes in each piece except possibly the last.
  - Pieces: Concatenated 20-byte SHA-1 digests, one per piece.
  - Length: Total file length in bytes.
*/
type Info struct {
	Name        string
	PieceLength uint64
	Pieces      []byte
	Length      uint64
}

/*
Extras holds optional keys of the torrent dictionary that do not take part in
the info hash. They are informational and may be absent.
*/
type Extras struct {
	AnnounceList [][]string `bencode:"announce-list"`
	Comment      string     `bencode:"comment"`
	CreatedBy    string     `bencode:"created by"`
	CreationDate int64      `bencode:"creation date"`
}

// --------------------------------------------------------------------------------------------- //

/*
Extract projects a decoded torrent dictionary into Metadata.

Parameters:
  - v: Decoded top-level value of a .torrent file.

Returns:
  - *Metadata: The typed metadata; the decoded "info" dictionary is retained for hashing.
  - error: A *FieldError (ErrMissingField, ErrTypeMismatch, ErrInvalidField) naming the offending key,
    or bencode.ErrInvalidUTF8 when a text field is not valid UTF-8.
*/
func Extract(v bencode.Value) (*Metadata, error) {
	root, ok := v.(bencode.Dict)
	if !ok {
		return nil, typeMismatch("torrent", bencode.KindDict, v)
	}

	announce, err := lookupText(root, "", "announce")
	if err != nil {
		return nil, err
	}

	info, err := lookupDict(root, "", "info")
	if err != nil {
		return nil, err
	}

	name, err := lookupText(info, "info.", "name")
	if err != nil {
		return nil, err
	}

	length, err := lookupInteger(info, "info.", "length")
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, invalidField("info.length", "negative length %d", length)
	}

	pieceLength, err := lookupInteger(info, "info.", "piece length")
	if err != nil {
		return nil, err
	}
	if pieceLength <= 0 {
		return nil, invalidField("info.piece length", "piece length must be positive, got %d", pieceLength)
	}

	pieces, err := lookupString(info, "info.", "pieces")
	if err != nil {
		return nil, err
	}
	if len(pieces)%pieceHashLength != 0 {
		return nil, invalidField("info.pieces", "length %d is not a multiple of %d", len(pieces), pieceHashLength)
	}

	return &Metadata{
		Announce: announce,
		Info: Info{
			Name:        name,
			PieceLength: uint64(pieceLength),
			Pieces:      pieces,
			Length:      uint64(length),
		},
		rawInfo: info,
	}, nil
}

// --------------------------------------------------------------------------------------------- //

// NumPieces returns the number of piece hashes in the metadata.
func (m *Metadata) NumPieces() int {
	return len(m.Info.Pieces) / pieceHashLength
}

// PieceHashes splits Info.Pieces into one digest per piece, in piece order.
func (m *Metadata) PieceHashes() [][pieceHashLength]byte {
	hashes := make([][pieceHashLength]byte, m.NumPieces())
	for i := range hashes {
		copy(hashes[i][:], m.Info.Pieces[i*pieceHashLength:(i+1)*pieceHashLength])
	}
	return hashes
}

// PieceHashesHex returns PieceHashes as lowercase hex strings.
func (m *Metadata) PieceHashesHex() []string {
	hashes := m.PieceHashes()
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = hex.EncodeToString(h[:])
	}
	return out
}

/*
PieceSize returns the length in bytes of piece index. Every piece has
Info.PieceLength bytes except the last, which holds the remainder.

Returns:
  - uint64: Size of the piece.
  - error: Non-nil if index is outside the torrent.
*/
func (m *Metadata) PieceSize(index int) (uint64, error) {
	n := m.NumPieces()
	if index < 0 || index >= n {
		return 0, fmt.Errorf("piece index %d out of range [0, %d)", index, n)
	}

	begin := uint64(index) * m.Info.PieceLength
	if begin >= m.Info.Length {
		return 0, nil
	}
	return min(m.Info.PieceLength, m.Info.Length-begin), nil
}

/*
Trackers lists every tracker URL of the torrent: "announce" first, followed by
the announce-list tiers in order, without duplicates.
*/
func (m *Metadata) Trackers() []string {
	seen := make(map[string]struct{})
	var trackers []string

	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		trackers = append(trackers, u)
	}

	add(m.Announce)
	for _, tier := range m.Extras.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}

	return trackers
}

// --------------------------------------------------------------------------------------------- //

func lookup(d bencode.Dict, prefix, key string) (bencode.Value, error) {
	v, ok := d.Lookup(key)
	if !ok {
		return nil, missingField(prefix + key)
	}
	return v, nil
}

func lookupDict(d bencode.Dict, prefix, key string) (bencode.Dict, error) {
	v, err := lookup(d, prefix, key)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(bencode.Dict)
	if !ok {
		return nil, typeMismatch(prefix+key, bencode.KindDict, v)
	}
	return dict, nil
}

func lookupInteger(d bencode.Dict, prefix, key string) (int64, error) {
	v, err := lookup(d, prefix, key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(bencode.Integer)
	if !ok {
		return 0, typeMismatch(prefix+key, bencode.KindInteger, v)
	}
	return int64(n), nil
}

func lookupString(d bencode.Dict, prefix, key string) ([]byte, error) {
	v, err := lookup(d, prefix, key)
	if err != nil {
		return nil, err
	}
	s, ok := v.(bencode.String)
	if !ok {
		return nil, typeMismatch(prefix+key, bencode.KindString, v)
	}
	return []byte(s), nil
}

func lookupText(d bencode.Dict, prefix, key string) (string, error) {
	raw, err := lookupString(d, prefix, key)
	if err != nil {
		return "", err
	}
	text, err := bencode.String(raw).Text()
	if err != nil {
		return "", &FieldError{Field: prefix + key, Reason: "not valid UTF-8 text", Err: err}
	}
	return text, nil
}

// --------------------------------------------------------------------------------------------- //
