package torrent

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// --------------------------------------------------------------------------------------------- //

const (
	protocolName    = "BitTorrent protocol"
	HandshakeLength = 1 + len(protocolName) + 8 + 20 + 20
)

/*
Handshake represents the structure of a BitTorrent protocol handshake message.
It is used to initiate a connection with a peer and verify compatibility.

Fields:
  - ProtocolNameLength: Length of the protocol name (always 19 for "BitTorrent protocol").
  - Protocol: Fixed-size array containing the protocol name.
  - Reserved: Reserved bytes for protocol extensions; zero on send, ignored on receive.
  - InfoHash: 20-byte SHA-1 hash of the torrent's info dictionary.
  - PeerID: 20-byte identifier of the sender.
*/
type Handshake struct {
	ProtocolNameLength byte
	Protocol           [19]byte
	Reserved           [8]byte
	InfoHash           InfoHash
	PeerID             PeerID
}

// NewHandshake returns the handshake this client sends.
func NewHandshake(infoHash InfoHash, peerID PeerID) Handshake {
	hs := Handshake{
		ProtocolNameLength: byte(len(protocolName)),
		InfoHash:           infoHash,
		PeerID:             peerID,
	}
	copy(hs.Protocol[:], protocolName)
	return hs
}

// Serialize returns the 68-byte wire form of the handshake.
func (hs Handshake) Serialize() []byte {
	var buf bytes.Buffer
	buf.Grow(HandshakeLength)
	// writes into a bytes.Buffer cannot fail
	_ = binary.Write(&buf, binary.BigEndian, &hs)
	return buf.Bytes()
}

// BuildHandshake returns the 68-byte handshake for infoHash and peerID.
func BuildHandshake(infoHash InfoHash, peerID PeerID) []byte {
	return NewHandshake(infoHash, peerID).Serialize()
}

/*
ParseHandshake validates a 68-byte handshake message.

Parameters:
  - msg: Bytes received from the peer.

Returns:
  - Handshake: The decoded message; Reserved carries whatever the peer sent.
  - error: ErrShortRead when msg is shorter than 68 bytes, ErrHandshakeMismatch when the
    length byte or protocol literal is wrong.
*/
func ParseHandshake(msg []byte) (Handshake, error) {
	if len(msg) < HandshakeLength {
		return Handshake{}, fmt.Errorf("%w: got %d of %d handshake bytes", ErrShortRead, len(msg), HandshakeLength)
	}

	var hs Handshake
	if err := binary.Read(bytes.NewReader(msg[:HandshakeLength]), binary.BigEndian, &hs); err != nil {
		return Handshake{}, fmt.Errorf("decoding handshake: %w", err)
	}

	if hs.ProtocolNameLength != byte(len(protocolName)) {
		return Handshake{}, fmt.Errorf("%w: protocol length %d", ErrHandshakeMismatch, hs.ProtocolNameLength)
	}
	if string(hs.Protocol[:]) != protocolName {
		return Handshake{}, fmt.Errorf("%w: protocol %q", ErrHandshakeMismatch, hs.Protocol[:])
	}

	return hs, nil
}

/*
ReadHandshake reads exactly 68 bytes from r and parses them.

Returns:
  - Handshake: The decoded message.
  - error: ErrShortRead when the stream ends early, ErrHandshakeMismatch, or the reader's error.
*/
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, HandshakeLength)

	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Handshake{}, fmt.Errorf("%w: got %d of %d handshake bytes", ErrShortRead, n, HandshakeLength)
		}
		return Handshake{}, err
	}

	return ParseHandshake(buf)
}

// --------------------------------------------------------------------------------------------- //

// HandshakeState tracks the progress of one handshake exchange.
type HandshakeState int

const (
	StateIdle HandshakeState = iota
	StateMessageSent
	StateAwaitingResponse
	StateCompleted
	StateFailed
)

func (s HandshakeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMessageSent:
		return "message sent"
	case StateAwaitingResponse:
		return "awaiting response"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("HandshakeState(%d)", int(s))
	}
}

// --------------------------------------------------------------------------------------------- //

/*
DialPeer opens a TCP connection to a peer, bounded by cfg.DialTimeout.

Returns:
  - net.Conn: The established connection.
  - error: A *NetworkError with ErrConnectFailed or ErrTimeout.
*/
func DialPeer(ctx context.Context, peer string, cfg Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", peer)
	if err != nil {
		return nil, networkError("dial", peer, ErrConnectFailed, err)
	}

	return conn, nil
}

/*
PerformHandshake executes the BitTorrent handshake over an established connection.
It sends our handshake, then reads the peer's 68-byte reply.

The whole exchange is bounded by cfg.HandshakeTimeout. Cancelling ctx closes
conn so a blocked read returns immediately; the caller still owns conn and
closes it once done.

Parameters:
  - ctx: Cancels the exchange.
  - conn: Stream connection to the peer.
  - infoHash: Info hash of the torrent.
  - cfg: Supplies our peer id, the timeout and whether to verify the echoed info hash.

Returns:
  - PeerID: Remote peer's identifier if the handshake is successful.
  - error: A *HandshakeError wrapping ErrHandshakeMismatch, ErrShortRead, ErrTimeout or ErrConnection.
*/
func PerformHandshake(ctx context.Context, conn net.Conn, infoHash InfoHash, cfg Config) (PeerID, error) {
	addr := conn.RemoteAddr().String()
	state := StateIdle

	fail := func(err error) (PeerID, error) {
		failedIn := state
		state = StateFailed
		slog.Debug("handshake failed", "peer", addr, "state", failedIn, "error", err)
		return PeerID{}, &HandshakeError{Peer: addr, State: failedIn, Err: err}
	}

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if cfg.HandshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	msg := BuildHandshake(infoHash, cfg.PeerID)
	slog.Debug("sending handshake", "peer", addr, "info_hash", infoHash, "peer_id", cfg.PeerID)

	if _, err := conn.Write(msg); err != nil {
		return fail(handshakeIOError(ctx, "write", addr, err))
	}
	state = StateMessageSent
	slog.Debug("handshake sent", "peer", addr, "state", state)

	state = StateAwaitingResponse
	response, err := ReadHandshake(conn)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		if errors.Is(err, ErrShortRead) || errors.Is(err, ErrHandshakeMismatch) {
			return fail(err)
		}
		return fail(handshakeIOError(ctx, "read", addr, err))
	}

	if cfg.VerifyInfoHash && response.InfoHash != infoHash {
		return fail(fmt.Errorf("%w: info hash %s, want %s", ErrHandshakeMismatch, response.InfoHash, infoHash))
	}

	state = StateCompleted
	slog.Debug("received handshake", "peer", addr, "peer_id", response.PeerID, "state", state)

	return response.PeerID, nil
}

func handshakeIOError(ctx context.Context, op, addr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return networkError(op, addr, ErrConnection, err)
}

/*
HandshakePeer dials a peer, performs the handshake and closes the connection.

Returns:
  - PeerID: Remote peer's identifier.
  - error: Dial or handshake error.
*/
func HandshakePeer(ctx context.Context, peer string, infoHash InfoHash, cfg Config) (PeerID, error) {
	conn, err := DialPeer(ctx, peer, cfg)
	if err != nil {
		return PeerID{}, err
	}
	defer conn.Close()

	return PerformHandshake(ctx, conn, infoHash, cfg)
}

// --------------------------------------------------------------------------------------------- //

/*
HandshakeResult is the outcome of one peer in ConnectToPeers.

Fields:
  - Peer: Address that was contacted.
  - PeerID: Remote identifier; zero when Err is set.
  - Err: Dial or handshake error.
*/
type HandshakeResult struct {
	Peer   PeerAddress
	PeerID PeerID
	Err    error
}

/*
ConnectToPeers performs handshakes with a list of peers concurrently.
At most cfg.MaxConnections connections are open at the same time.

Parameters:
  - ctx: Cancels outstanding handshakes.
  - peers: Peers to contact.
  - infoHash: Info hash of the torrent.
  - cfg: Client configuration.
  - onDone: Optional callback invoked once per peer as soon as its handshake ends;
    it may be called from several goroutines at once.

Returns:
  - []HandshakeResult: One result per peer, in the order of peers.
*/
func ConnectToPeers(ctx context.Context, peers []PeerAddress, infoHash InfoHash, cfg Config, onDone func(HandshakeResult)) []HandshakeResult {
	results := make([]HandshakeResult, len(peers))

	limit := cfg.MaxConnections
	if limit <= 0 {
		limit = DefaultMaxConnections
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, peer := range peers {
		g.Go(func() error {
			peerID, err := HandshakePeer(ctx, peer.String(), infoHash, cfg)
			results[i] = HandshakeResult{Peer: peer, PeerID: peerID, Err: err}

			if err != nil {
				slog.Info("handshake failed", "peer", peer, "error", err)
			} else {
				slog.Info("handshake completed", "peer", peer, "peer_id", peerID)
			}

			if onDone != nil {
				onDone(results[i])
			}
			return nil
		})
	}

	g.Wait()

	return results
}

// --------------------------------------------------------------------------------------------- //
