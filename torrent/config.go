package torrent

import (
	"errors"
	"time"
)

// --------------------------------------------------------------------------------------------- //

/*
Config carries the client identity and the network policy shared by tracker
announces and peer handshakes. A Config is read-only once built and may be
shared by any number of goroutines.

Fields:
  - PeerID: 20-byte identifier announced to trackers and peers.
  - Port: Port announced to trackers.
  - DialTimeout: Bound on establishing a TCP connection to a peer.
  - HandshakeTimeout: Bound on the whole handshake exchange once connected.
  - TrackerTimeout: Bound on one HTTP tracker request.
  - UDPTimeout: Read deadline of the first UDP tracker attempt; later attempts wait longer.
  - UDPRetries: Number of connect attempts against a UDP tracker.
  - MaxConnections: Upper bound on simultaneous outbound peer connections.
  - VerifyInfoHash: Reject handshakes whose echoed info hash differs from ours.
*/
type Config struct {
	PeerID           PeerID
	Port             uint16
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	TrackerTimeout   time.Duration
	UDPTimeout       time.Duration
	UDPRetries       int
	MaxConnections   int
	VerifyInfoHash   bool
}

const (
	DefaultPort           = 6881
	DefaultMaxConnections = 10
)

// --------------------------------------------------------------------------------------------- //

/*
DefaultConfig returns the client defaults with a freshly generated peer ID.

Returns:
  - Config: Defaults matching the values the client has always used (port 6881, 5s peer timeouts, 15s tracker timeout, 10 connections).
  - error: Non-nil if no random peer ID could be generated.
*/
func DefaultConfig() (Config, error) {
	peerID, err := GeneratePeerID()
	if err != nil {
		return Config{}, err
	}

	return Config{
		PeerID:           peerID,
		Port:             DefaultPort,
		DialTimeout:      5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		TrackerTimeout:   15 * time.Second,
		UDPTimeout:       5 * time.Second,
		UDPRetries:       3,
		MaxConnections:   DefaultMaxConnections,
		VerifyInfoHash:   true,
	}, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.Port == 0:
		return errors.New("config: port must be non-zero")
	case c.DialTimeout <= 0, c.HandshakeTimeout <= 0, c.TrackerTimeout <= 0, c.UDPTimeout <= 0:
		return errors.New("config: timeouts must be positive")
	case c.UDPRetries <= 0:
		return errors.New("config: udp retries must be positive")
	case c.MaxConnections <= 0:
		return errors.New("config: max connections must be positive")
	}
	return nil
}

// --------------------------------------------------------------------------------------------- //
