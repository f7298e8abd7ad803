package torrent

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------------------------- //

// PeerID is the 20-byte token a client uses to identify itself to trackers and peers.
type PeerID [20]byte

func (id PeerID) Hex() string { return hex.EncodeToString(id[:]) }

func (id PeerID) String() string { return id.Hex() }

/*
GeneratePeerID creates a client identifier in the Azureus style: an 8-byte
client prefix followed by 12 random hex characters taken from a v4 UUID.

Returns:
  - PeerID: The generated identifier, e.g. "-GT0001-3f9c0a1b2c4d".
  - error: Non-nil if the system random source fails.
*/
func GeneratePeerID() (PeerID, error) {
	const prefix = "-GT0001-"

	u, err := uuid.NewRandom()
	if err != nil {
		return PeerID{}, fmt.Errorf("generating peer id: %w", err)
	}

	var id PeerID
	n := copy(id[:], prefix)
	hex.Encode(id[n:], u[:(len(id)-n)/2])
	return id, nil
}

/*
ParsePeerID accepts either exactly 20 raw bytes or 40 hex characters.

Returns:
  - PeerID: The parsed identifier.
  - error: Non-nil if s has any other length or is not valid hex.
*/
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID

	switch len(s) {
	case len(id):
		copy(id[:], s)
		return id, nil
	case 2 * len(id):
		if _, err := hex.Decode(id[:], []byte(s)); err != nil {
			return PeerID{}, fmt.Errorf("parse peer id: %w", err)
		}
		return id, nil
	default:
		return PeerID{}, fmt.Errorf("parse peer id: want 20 bytes or 40 hex characters, got %d characters", len(s))
	}
}

// --------------------------------------------------------------------------------------------- //

const compactPeerLength = 6

// PeerAddress is an IPv4 peer endpoint.
type PeerAddress struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddress) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

/*
ParsePeers decodes the compact peer format: 4 bytes of big-endian IPv4
address followed by 2 bytes of big-endian port, per peer.

Parameters:
  - peers: Packed peer string from a tracker response.

Returns:
  - []PeerAddress: Peers in input order.
  - error: Non-nil if the length is not a multiple of 6.
*/
func ParsePeers(peers []byte) ([]PeerAddress, error) {
	if len(peers)%compactPeerLength != 0 {
		return nil, invalidField("peers", "length %d is not a multiple of %d", len(peers), compactPeerLength)
	}

	result := make([]PeerAddress, 0, len(peers)/compactPeerLength)

	for i := 0; i < len(peers); i += compactPeerLength {
		ip := make(net.IP, net.IPv4len)
		copy(ip, peers[i:i+4])
		port := binary.BigEndian.Uint16(peers[i+4 : i+6])
		result = append(result, PeerAddress{IP: ip, Port: port})
	}

	return result, nil
}

/*
ParsePeerAddress parses "ip:port" where ip is an IPv4 address.

Returns:
  - PeerAddress: The parsed address.
  - error: Non-nil if the host is not IPv4 or the port is not a 16-bit number.
*/
func ParsePeerAddress(s string) (PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("parse peer address %q: %w", s, err)
	}

	ip := net.ParseIP(host).To4()
	if ip == nil {
		return PeerAddress{}, fmt.Errorf("parse peer address %q: %q is not an IPv4 address", s, host)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("parse peer address %q: invalid port: %w", s, err)
	}

	return PeerAddress{IP: ip, Port: uint16(port)}, nil
}

// --------------------------------------------------------------------------------------------- //

func isHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func isUDP(url string) bool {
	return strings.HasPrefix(url, "udp://")
}

func generateTransactionID() (uint32, error) {
	var buf [4]byte

	_, err := crand.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("generating transaction id: %w", err)
	}

	return binary.BigEndian.Uint32(buf[:]), nil
}

// --------------------------------------------------------------------------------------------- //
