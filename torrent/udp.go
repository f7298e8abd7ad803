package torrent

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"
)

// --------------------------------------------------------------------------------------------- //

const (
	udpProtocolID = 0x41727101980

	udpActionConnect  = 0
	udpActionAnnounce = 1
	udpActionError    = 3

	udpEventNone = 0
	udpNumWant   = -1

	udpConnectRequestLength   = 16
	udpConnectResponseLength  = 16
	udpAnnounceRequestLength  = 98
	udpAnnounceResponseHeader = 20
	udpMaxPacket              = 2048
)

// --------------------------------------------------------------------------------------------- //

/*
udpAnnounceRequest is the second packet of the UDP tracker exchange.

Layout (big endian, 98 bytes):

	0   connection id   8
	8   action          4
	12  transaction id  4
	16  info hash       20
	36  peer id         20
	56  downloaded      8
	64  left            8
	72  uploaded        8
	80  event           4
	84  ip              4
	88  key             4
	92  num want        4
	96  port            2
*/
type udpAnnounceRequest struct {
	ConnectionID  uint64
	TransactionID uint32
	InfoHash      InfoHash
	PeerID        PeerID
	Downloaded    uint64
	Left          uint64
	Uploaded      uint64
	Event         uint32
	Key           uint32
	NumWant       int32
	Port          uint16
}

func (r udpAnnounceRequest) serialize() []byte {
	buf := make([]byte, udpAnnounceRequestLength)

	binary.BigEndian.PutUint64(buf[0:8], r.ConnectionID)
	binary.BigEndian.PutUint32(buf[8:12], udpActionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], r.TransactionID)

	copy(buf[16:36], r.InfoHash[:])
	copy(buf[36:56], r.PeerID[:])

	binary.BigEndian.PutUint64(buf[56:64], r.Downloaded)
	binary.BigEndian.PutUint64(buf[64:72], r.Left)
	binary.BigEndian.PutUint64(buf[72:80], r.Uploaded)

	binary.BigEndian.PutUint32(buf[80:84], r.Event)
	// ip 84:88 stays zero so the tracker uses the sender address
	binary.BigEndian.PutUint32(buf[88:92], r.Key)
	binary.BigEndian.PutUint32(buf[92:96], uint32(r.NumWant))
	binary.BigEndian.PutUint16(buf[96:98], r.Port)

	return buf
}

func buildUDPConnectRequest(transactionID uint32) []byte {
	buf := make([]byte, udpConnectRequestLength)
	binary.BigEndian.PutUint64(buf[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(buf[8:12], udpActionConnect)
	binary.BigEndian.PutUint32(buf[12:16], transactionID)
	return buf
}

// --------------------------------------------------------------------------------------------- //

var errUDPTransactionMismatch = errors.New("udp tracker: transaction id mismatch")

func parseUDPConnectResponse(resp []byte, transactionID uint32) (uint64, error) {
	if len(resp) >= 8 && binary.BigEndian.Uint32(resp[0:4]) == udpActionError {
		return 0, fmt.Errorf("%w: %s", ErrTrackerFailure, resp[8:])
	}
	if len(resp) < udpConnectResponseLength {
		return 0, invalidField("connect response", "length %d, want %d", len(resp), udpConnectResponseLength)
	}

	if action := binary.BigEndian.Uint32(resp[0:4]); action != udpActionConnect {
		return 0, invalidField("connect response", "unexpected action %d", action)
	}
	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return 0, errUDPTransactionMismatch
	}

	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func parseUDPAnnounceResponse(resp []byte, transactionID uint32) (*TrackerResponse, error) {
	if len(resp) < 8 {
		return nil, invalidField("announce response", "length %d is too short", len(resp))
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if action == udpActionError {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, resp[8:])
	}
	if action != udpActionAnnounce {
		return nil, invalidField("announce response", "unexpected action %d", action)
	}
	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return nil, errUDPTransactionMismatch
	}
	if len(resp) < udpAnnounceResponseHeader {
		return nil, invalidField("announce response", "length %d, want at least %d", len(resp), udpAnnounceResponseHeader)
	}

	peers, err := ParsePeers(resp[udpAnnounceResponseHeader:])
	if err != nil {
		return nil, err
	}

	return &TrackerResponse{
		Interval:   int64(binary.BigEndian.Uint32(resp[8:12])),
		Incomplete: int64(binary.BigEndian.Uint32(resp[12:16])),
		Complete:   int64(binary.BigEndian.Uint32(resp[16:20])),
		Peers:      peers,
	}, nil
}

// --------------------------------------------------------------------------------------------- //

/*
AnnounceUDP announces the torrent to a UDP tracker: a connect exchange, retried
up to cfg.UDPRetries times with a growing deadline, followed by one announce.

Parameters:
  - ctx: Cancels the exchange.
  - announce: Tracker URL of the form udp://host:port/announce.
  - infoHash: Info hash of the torrent.
  - left: Number of bytes still to download.
  - cfg: Supplies peer id, port, UDP timeout and retry count.

Returns:
  - *TrackerResponse: Interval, seeders, leechers and peers reported by the tracker.
  - error: A *NetworkError, ErrTrackerFailure, or a protocol error.
*/
func AnnounceUDP(ctx context.Context, announce string, infoHash InfoHash, left uint64, cfg Config) (*TrackerResponse, error) {
	u, err := url.Parse(announce)
	if err != nil {
		return nil, fmt.Errorf("parsing udp tracker url: %w", err)
	}
	addr := u.Host

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, networkError("dial", addr, ErrConnectFailed, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	transactionID, err := generateTransactionID()
	if err != nil {
		return nil, err
	}

	connectionID, err := udpConnect(ctx, conn, addr, transactionID, cfg)
	if err != nil {
		return nil, err
	}

	key, err := generateTransactionID()
	if err != nil {
		return nil, err
	}

	req := udpAnnounceRequest{
		ConnectionID:  connectionID,
		TransactionID: transactionID,
		InfoHash:      infoHash,
		PeerID:        cfg.PeerID,
		Left:          left,
		Event:         udpEventNone,
		Key:           key,
		NumWant:       udpNumWant,
		Port:          cfg.Port,
	}

	slog.Debug("sending udp announce", "tracker", addr, "info_hash", infoHash, "left", left)

	if err := armUDPDeadline(ctx, conn, cfg.UDPTimeout); err != nil {
		return nil, err
	}

	if _, err := conn.Write(req.serialize()); err != nil {
		return nil, udpError(ctx, "write", addr, ErrConnection, err)
	}

	resp := make([]byte, udpMaxPacket)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, udpError(ctx, "read", addr, ErrRequestFailed, err)
	}

	return parseUDPAnnounceResponse(resp[:n], transactionID)
}

func udpConnect(ctx context.Context, conn net.Conn, addr string, transactionID uint32, cfg Config) (uint64, error) {
	connectReq := buildUDPConnectRequest(transactionID)

	var lastErr error

	for attempt := 0; attempt < cfg.UDPRetries; attempt++ {
		if err := armUDPDeadline(ctx, conn, cfg.UDPTimeout+time.Duration(attempt)*2*time.Second); err != nil {
			return 0, err
		}

		slog.Debug("sending udp connect", "tracker", addr, "attempt", attempt+1, "transaction_id", transactionID)

		if _, err := conn.Write(connectReq); err != nil {
			lastErr = udpError(ctx, "write", addr, ErrConnection, err)
			continue
		}

		resp := make([]byte, udpMaxPacket)
		n, err := conn.Read(resp)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = udpError(ctx, "read", addr, ErrRequestFailed, err)
			continue
		}

		connectionID, err := parseUDPConnectResponse(resp[:n], transactionID)
		if errors.Is(err, errUDPTransactionMismatch) {
			lastErr = err
			continue
		}
		return connectionID, err
	}

	return 0, fmt.Errorf("no connect response from %s after %d attempts: %w", addr, cfg.UDPRetries, lastErr)
}

// armUDPDeadline sets conn's deadline timeout from now. ctx is checked after the
// deadline is set, so a cancel that fired in between is not overwritten.
func armUDPDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	conn.SetDeadline(time.Now().Add(timeout))
	if err := ctx.Err(); err != nil {
		conn.SetDeadline(time.Now())
		return err
	}
	return nil
}

func udpError(ctx context.Context, op, addr string, kind, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return networkError(op, addr, kind, err)
}

// --------------------------------------------------------------------------------------------- //
