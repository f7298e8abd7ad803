package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/wtlin1228/bittorrent/bencode"
	"github.com/wtlin1228/bittorrent/torrent"
)

// --------------------------------------------------------------------------------------------- //

const usage = `Usage: bittorrent [flags] <command> [arguments]

Commands:
  decode <bencoded-value>          print the value as JSON
  info <torrent-file>              print tracker, length, info hash and piece hashes
  peers <torrent-file>             print the peers returned by the tracker
  handshake <torrent-file> <ip:port>  print the peer id of the remote peer
  probe <torrent-file>             handshake every peer returned by the tracker

Flags:
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// --------------------------------------------------------------------------------------------- //

/*
run parses flags, configures logging and dispatches to a command.

Parameters:
  - ctx: Cancels network commands.
  - args: Command line without the program name.
  - stdout: Destination of command output.
  - stderr: Destination of logs, progress and errors.

Returns:
  - int: Process exit code; 0 on success, 1 on any failure, 2 on bad usage.
*/
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bittorrent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	peerID := fs.String("peer-id", "", "peer id as 20 bytes or 40 hex characters (default: random)")
	port := fs.Uint("port", torrent.DefaultPort, "port announced to trackers")
	timeout := fs.Duration("timeout", 5*time.Second, "dial and handshake timeout per peer")
	maxConns := fs.Int("max-conns", torrent.DefaultMaxConnections, "maximum simultaneous peer connections")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn, error")
	noVerify := fs.Bool("no-verify", false, "accept handshakes that echo a different info hash")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if err := setupLogger(stderr, *logLevel); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	cfg, err := buildConfig(*peerID, *port, *timeout, *maxConns, !*noVerify)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	if err := dispatch(ctx, fs.Args(), cfg, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		return 1
	}

	return 0
}

func setupLogger(w io.Writer, level string) error {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid -log-level %q", level)
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return nil
}

func buildConfig(peerID string, port uint, timeout time.Duration, maxConns int, verify bool) (torrent.Config, error) {
	cfg, err := torrent.DefaultConfig()
	if err != nil {
		return torrent.Config{}, err
	}

	if peerID != "" {
		if cfg.PeerID, err = torrent.ParsePeerID(peerID); err != nil {
			return torrent.Config{}, err
		}
	}
	if port > 0xffff {
		return torrent.Config{}, fmt.Errorf("invalid -port %d", port)
	}

	cfg.Port = uint16(port)
	cfg.DialTimeout = timeout
	cfg.HandshakeTimeout = timeout
	cfg.MaxConnections = maxConns
	cfg.VerifyInfoHash = verify

	if err := cfg.Validate(); err != nil {
		return torrent.Config{}, err
	}
	return cfg, nil
}

func dispatch(ctx context.Context, args []string, cfg torrent.Config, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	command, rest := args[0], args[1:]

	want := map[string]int{"decode": 1, "info": 1, "peers": 1, "handshake": 2, "probe": 1}
	n, ok := want[command]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
	if len(rest) != n {
		return fmt.Errorf("%w: %s takes %d argument(s), got %d", errUsage, command, n, len(rest))
	}

	switch command {
	case "decode":
		return runDecode(rest[0], stdout)
	case "info":
		return runInfo(rest[0], stdout)
	case "peers":
		return runPeers(ctx, rest[0], cfg, stdout)
	case "handshake":
		return runHandshake(ctx, rest[0], rest[1], cfg, stdout)
	default:
		return runProbe(ctx, rest[0], cfg, stdout, stderr)
	}
}

// --------------------------------------------------------------------------------------------- //

func runDecode(encoded string, stdout io.Writer) error {
	v, err := bencode.Decode([]byte(encoded))
	if err != nil {
		return err
	}

	j, err := bencode.ToJSON(v)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	return enc.Encode(j)
}

func runInfo(path string, stdout io.Writer) error {
	meta, infoHash, err := torrent.Load(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Tracker URL: %s\n", meta.Announce)
	fmt.Fprintf(stdout, "Length: %d\n", meta.Info.Length)
	fmt.Fprintf(stdout, "Info Hash: %s\n", infoHash.Hex())
	fmt.Fprintf(stdout, "Piece Length: %d\n", meta.Info.PieceLength)
	fmt.Fprintln(stdout, "Piece Hashes")
	for _, h := range meta.PieceHashesHex() {
		fmt.Fprintln(stdout, h)
	}
	return nil
}

func runPeers(ctx context.Context, path string, cfg torrent.Config, stdout io.Writer) error {
	meta, infoHash, err := torrent.Load(path)
	if err != nil {
		return err
	}

	peers, err := torrent.FindConnections(ctx, meta, infoHash, cfg)
	if err != nil {
		return err
	}

	for _, peer := range peers {
		fmt.Fprintln(stdout, peer)
	}
	return nil
}

func runHandshake(ctx context.Context, path, addr string, cfg torrent.Config, stdout io.Writer) error {
	meta, infoHash, err := torrent.Load(path)
	if err != nil {
		return err
	}

	peer, err := torrent.ParsePeerAddress(addr)
	if err != nil {
		return err
	}

	slog.Info("connecting to peer", "peer", peer, "torrent", meta.Info.Name)

	remoteID, err := torrent.HandshakePeer(ctx, peer.String(), infoHash, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Peer ID: %s\n", remoteID.Hex())
	return nil
}

func runProbe(ctx context.Context, path string, cfg torrent.Config, stdout, stderr io.Writer) error {
	meta, infoHash, err := torrent.Load(path)
	if err != nil {
		return err
	}

	peers, err := torrent.FindConnections(ctx, meta, infoHash, cfg)
	if err != nil {
		return err
	}

	var onDone func(torrent.HandshakeResult)
	if isTerminal(stderr) {
		bar := progressbar.NewOptions(len(peers),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("handshaking"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		onDone = func(torrent.HandshakeResult) { bar.Add(1) }
	}

	results := torrent.ConnectToPeers(ctx, peers, infoHash, cfg, onDone)

	completed := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stdout, "%s\tfailed: %s\n", r.Peer, oneLine(r.Err))
			continue
		}
		completed++
		fmt.Fprintf(stdout, "%s\t%s\n", r.Peer, r.PeerID.Hex())
	}

	if len(results) > 0 && completed == 0 {
		return fmt.Errorf("no handshake succeeded with %d peer(s)", len(results))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func oneLine(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}

// --------------------------------------------------------------------------------------------- //
