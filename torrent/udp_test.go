package torrent

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"reflect"
	"testing"
	"time"
)

const testConnectionID = 0x1122334455667788

// udpTracker is a fake UDP tracker that stops after the first announce.
type udpTracker struct {
	t    *testing.T
	conn net.PacketConn

	dropConnects int
	failAnnounce string

	gotAnnounce []byte
	done        chan struct{}
}

func startUDPTracker(t *testing.T) *udpTracker {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	return &udpTracker{t: t, conn: conn, done: make(chan struct{})}
}

func (tr *udpTracker) url() string {
	return "udp://" + tr.conn.LocalAddr().String() + "/announce"
}

func (tr *udpTracker) serve() {
	defer close(tr.done)

	buf := make([]byte, udpMaxPacket)

	for {
		n, addr, err := tr.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		packet := buf[:n]

		switch {
		case n == udpConnectRequestLength && binary.BigEndian.Uint64(packet[0:8]) == udpProtocolID:
			if tr.dropConnects > 0 {
				tr.dropConnects--
				continue
			}
			reply := make([]byte, udpConnectResponseLength)
			binary.BigEndian.PutUint32(reply[0:4], udpActionConnect)
			copy(reply[4:8], packet[12:16])
			binary.BigEndian.PutUint64(reply[8:16], testConnectionID)
			tr.conn.WriteTo(reply, addr)

		case n == udpAnnounceRequestLength:
			tr.gotAnnounce = bytes.Clone(packet)

			var reply []byte
			if tr.failAnnounce != "" {
				reply = make([]byte, 8)
				binary.BigEndian.PutUint32(reply[0:4], udpActionError)
				copy(reply[4:8], packet[12:16])
				reply = append(reply, tr.failAnnounce...)
			} else {
				reply = make([]byte, udpAnnounceResponseHeader)
				binary.BigEndian.PutUint32(reply[0:4], udpActionAnnounce)
				copy(reply[4:8], packet[12:16])
				binary.BigEndian.PutUint32(reply[8:12], 1800)
				binary.BigEndian.PutUint32(reply[12:16], 2)
				binary.BigEndian.PutUint32(reply[16:20], 5)
				reply = append(reply, samplePeersBlob...)
			}
			tr.conn.WriteTo(reply, addr)
			return

		default:
			tr.t.Errorf("tracker got unexpected %d-byte packet", n)
			return
		}
	}
}

func udpTestConfig(t *testing.T) Config {
	cfg := testConfig(t)
	cfg.UDPTimeout = 200 * time.Millisecond
	cfg.UDPRetries = 3
	return cfg
}

// --------------------------------------------------------------------------------------------- //

func TestUDPAnnounceRequestLayout(t *testing.T) {
	var infoHash InfoHash
	for i := range infoHash {
		infoHash[i] = byte(i)
	}

	req := udpAnnounceRequest{
		ConnectionID:  testConnectionID,
		TransactionID: 0xcafebabe,
		InfoHash:      infoHash,
		PeerID:        testPeerID(t),
		Left:          92063,
		Key:           7,
		NumWant:       udpNumWant,
		Port:          6881,
	}
	buf := req.serialize()

	if len(buf) != udpAnnounceRequestLength {
		t.Fatalf("len = %d, want %d", len(buf), udpAnnounceRequestLength)
	}
	if got := binary.BigEndian.Uint64(buf[0:8]); got != testConnectionID {
		t.Errorf("connection id = %x", got)
	}
	if got := binary.BigEndian.Uint32(buf[8:12]); got != udpActionAnnounce {
		t.Errorf("action = %d, want %d", got, udpActionAnnounce)
	}
	if !bytes.Equal(buf[16:36], infoHash[:]) {
		t.Errorf("info hash = %x", buf[16:36])
	}
	if string(buf[36:56]) != "00112233445566778899" {
		t.Errorf("peer id = %q", buf[36:56])
	}
	if got := binary.BigEndian.Uint64(buf[64:72]); got != 92063 {
		t.Errorf("left = %d, want 92063", got)
	}
	if got := int32(binary.BigEndian.Uint32(buf[92:96])); got != -1 {
		t.Errorf("num want = %d, want -1", got)
	}
	if got := binary.BigEndian.Uint16(buf[96:98]); got != 6881 {
		t.Errorf("port = %d, want 6881", got)
	}
}

func TestParseUDPConnectResponse(t *testing.T) {
	resp := make([]byte, 16)
	binary.BigEndian.PutUint32(resp[4:8], 42)
	binary.BigEndian.PutUint64(resp[8:16], testConnectionID)

	id, err := parseUDPConnectResponse(resp, 42)
	if err != nil || id != testConnectionID {
		t.Fatalf("parseUDPConnectResponse = %x, %v", id, err)
	}

	if _, err := parseUDPConnectResponse(resp, 43); !errors.Is(err, errUDPTransactionMismatch) {
		t.Errorf("mismatched transaction id: error = %v", err)
	}
	if _, err := parseUDPConnectResponse(resp[:10], 42); !errors.Is(err, ErrInvalidField) {
		t.Errorf("short response: error = %v", err)
	}
}

func TestAnnounceUDP(t *testing.T) {
	tr := startUDPTracker(t)
	go tr.serve()

	infoHash, err := ParseInfoHash(sampleInfoHash)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := AnnounceUDP(context.Background(), tr.url(), infoHash, sampleLength, udpTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	<-tr.done

	if resp.Interval != 1800 || resp.Incomplete != 2 || resp.Complete != 5 {
		t.Errorf("interval/incomplete/complete = %d/%d/%d, want 1800/2/5", resp.Interval, resp.Incomplete, resp.Complete)
	}
	if got := peerStrings(resp.Peers); !reflect.DeepEqual(got, samplePeers) {
		t.Errorf("Peers = %v, want %v", got, samplePeers)
	}

	if got := binary.BigEndian.Uint64(tr.gotAnnounce[0:8]); got != testConnectionID {
		t.Errorf("announce carried connection id %x, want %x", got, testConnectionID)
	}
	if !bytes.Equal(tr.gotAnnounce[16:36], infoHash[:]) {
		t.Errorf("announce carried info hash %x", tr.gotAnnounce[16:36])
	}
}

func TestAnnounceUDPRetriesConnect(t *testing.T) {
	tr := startUDPTracker(t)
	tr.dropConnects = 1
	go tr.serve()

	resp, err := AnnounceUDP(context.Background(), tr.url(), InfoHash{}, 0, udpTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	<-tr.done

	if len(resp.Peers) != 3 {
		t.Errorf("got %d peers, want 3", len(resp.Peers))
	}
}

func TestAnnounceUDPTrackerError(t *testing.T) {
	tr := startUDPTracker(t)
	tr.failAnnounce = "torrent not registered"
	go tr.serve()

	_, err := AnnounceUDP(context.Background(), tr.url(), InfoHash{}, 0, udpTestConfig(t))
	<-tr.done

	if !errors.Is(err, ErrTrackerFailure) {
		t.Fatalf("AnnounceUDP error = %v, want ErrTrackerFailure", err)
	}
}

func TestAnnounceUDPNoResponse(t *testing.T) {
	tr := startUDPTracker(t)
	tr.dropConnects = 100
	go tr.serve()

	cfg := udpTestConfig(t)
	cfg.UDPTimeout = 50 * time.Millisecond
	cfg.UDPRetries = 1

	_, err := AnnounceUDP(context.Background(), tr.url(), InfoHash{}, 0, cfg)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("AnnounceUDP error = %v, want ErrTimeout", err)
	}
}

func TestAnnounceUDPCancelled(t *testing.T) {
	tr := startUDPTracker(t)
	tr.dropConnects = 100
	go tr.serve()

	cfg := udpTestConfig(t)
	cfg.UDPTimeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := AnnounceUDP(ctx, tr.url(), InfoHash{}, 0, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("AnnounceUDP error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("AnnounceUDP returned after %v", elapsed)
	}
}

func TestArmUDPDeadlineAfterCancel(t *testing.T) {
	tr := startUDPTracker(t)

	conn, err := net.Dial("udp", tr.conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	fired := make(chan struct{})
	context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
		close(fired)
	})
	cancel()
	<-fired

	if err := armUDPDeadline(ctx, conn, 10*time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("armUDPDeadline error = %v, want context.Canceled", err)
	}

	start := time.Now()
	if _, err := conn.Read(make([]byte, 16)); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("Read error = %v, want a deadline error", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Read blocked for %v after cancel", elapsed)
	}
}
