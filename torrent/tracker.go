package torrent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wtlin1228/bittorrent/bencode"
)

// --------------------------------------------------------------------------------------------- //

// maxTrackerResponse bounds how much of a tracker reply is read into memory.
const maxTrackerResponse = 1 << 20

/*
TrackerResponse is the decoded reply of a tracker announce.

Fields:
  - Interval: Seconds the client should wait between regular announces.
  - MinInterval: Optional lower bound on the announce interval; nil when the tracker omits it.
  - Complete: Number of seeders.
  - Incomplete: Number of leechers.
  - TrackerID: Optional opaque id to send back on later announces.
  - Peers: Peers in the order the tracker listed them.
*/
type TrackerResponse struct {
	Interval    int64
	MinInterval *int64
	Complete    int64
	Incomplete  int64
	TrackerID   string
	Peers       []PeerAddress
}

// --------------------------------------------------------------------------------------------- //

/*
BuildAnnounceURL builds the HTTP GET URL announcing the torrent to its
"announce" tracker.

The info hash is percent-encoded byte for byte (every byte as %xx). The query
parameters always appear in the same order: info_hash, peer_id, port,
uploaded, downloaded, left, compact.

Parameters:
  - meta: Torrent metadata; Announce and Info.Length are used.
  - infoHash: Info hash of the torrent.
  - peerID: Client identifier.
  - port: Port the client listens on.

Returns:
  - string: The complete request URL.
*/
func BuildAnnounceURL(meta *Metadata, infoHash InfoHash, peerID PeerID, port uint16) string {
	return buildAnnounceURL(meta.Announce, infoHash, peerID, port, meta.Info.Length)
}

func buildAnnounceURL(announce string, infoHash InfoHash, peerID PeerID, port uint16, left uint64) string {
	var sb strings.Builder

	sb.WriteString(announce)
	switch {
	case strings.HasSuffix(announce, "?"), strings.HasSuffix(announce, "&"):
	case strings.Contains(announce, "?"):
		sb.WriteByte('&')
	default:
		sb.WriteByte('?')
	}

	sb.WriteString("info_hash=")
	sb.WriteString(infoHash.URLEncoded())
	sb.WriteString("&peer_id=")
	sb.WriteString(escapeQueryBytes(peerID[:]))
	sb.WriteString("&port=")
	sb.WriteString(strconv.FormatUint(uint64(port), 10))
	sb.WriteString("&uploaded=0")
	sb.WriteString("&downloaded=0")
	sb.WriteString("&left=")
	sb.WriteString(strconv.FormatUint(left, 10))
	sb.WriteString("&compact=1")

	return sb.String()
}

// escapeQueryBytes keeps RFC 3986 unreserved characters and percent-encodes
// every other byte.
func escapeQueryBytes(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if isUnreserved(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteString(percentEncodeAll([]byte{c}))
	}
	return sb.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

// --------------------------------------------------------------------------------------------- //

/*
ParseAnnounceResponse decodes a bencoded tracker reply.

Parameters:
  - body: Raw HTTP response body.

Returns:
  - *TrackerResponse: The decoded reply.
  - error: A *bencode.SyntaxError if body is not bencoding, ErrTrackerFailure when the tracker
    reports a "failure reason", or a *FieldError for missing or mistyped keys.
*/
func ParseAnnounceResponse(body []byte) (*TrackerResponse, error) {
	v, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("decoding tracker response: %w", err)
	}

	dict, ok := v.(bencode.Dict)
	if !ok {
		return nil, typeMismatch("response", bencode.KindDict, v)
	}

	if _, ok := dict["failure reason"]; ok {
		reason, err := lookupText(dict, "", "failure reason")
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, reason)
	}

	resp := &TrackerResponse{}

	if resp.Interval, err = lookupInteger(dict, "", "interval"); err != nil {
		return nil, err
	}
	if resp.Complete, err = lookupInteger(dict, "", "complete"); err != nil {
		return nil, err
	}
	if resp.Incomplete, err = lookupInteger(dict, "", "incomplete"); err != nil {
		return nil, err
	}

	if _, ok := dict["min interval"]; ok {
		minInterval, err := lookupInteger(dict, "", "min interval")
		if err != nil {
			return nil, err
		}
		resp.MinInterval = &minInterval
	}

	if _, ok := dict["tracker id"]; ok {
		id, err := lookupString(dict, "", "tracker id")
		if err != nil {
			return nil, err
		}
		resp.TrackerID = string(id)
	}

	packed, err := lookupString(dict, "", "peers")
	if err != nil {
		return nil, err
	}
	if resp.Peers, err = ParsePeers(packed); err != nil {
		return nil, err
	}

	return resp, nil
}

// --------------------------------------------------------------------------------------------- //

// Getter performs an HTTP GET and returns the response body.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// HTTPGetter is the net/http implementation of Getter.
type HTTPGetter struct {
	Client *http.Client
}

// NewHTTPGetter returns a Getter whose requests time out after timeout.
func NewHTTPGetter(timeout time.Duration) *HTTPGetter {
	return &HTTPGetter{Client: &http.Client{Timeout: timeout}}
}

/*
Get sends the request unchanged (the query is not re-encoded) and reads the body.

Returns:
  - []byte: Response body of a 200 reply.
  - error: A *NetworkError with ErrRequestFailed or ErrTimeout.
*/
func (g *HTTPGetter) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating tracker request: %w", err)
	}
	req.Header.Set("User-Agent", "BitTorrent/1.0")

	addr := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	response, err := client.Do(req)
	if err != nil {
		return nil, networkError("GET", addr, ErrRequestFailed, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, networkError("GET", addr, ErrRequestFailed, fmt.Errorf("tracker returned status %s", response.Status))
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxTrackerResponse))
	if err != nil {
		return nil, networkError("GET", addr, ErrRequestFailed, err)
	}

	return body, nil
}

// --------------------------------------------------------------------------------------------- //

/*
AnnounceHTTP announces the torrent to one HTTP tracker.

Parameters:
  - ctx: Cancels the request.
  - getter: HTTP GET collaborator.
  - announce: Tracker URL.
  - infoHash: Info hash of the torrent.
  - left: Number of bytes still to download.
  - cfg: Supplies peer id and port.

Returns:
  - *TrackerResponse: The decoded reply.
  - error: Network, decode, or validation error.
*/
func AnnounceHTTP(ctx context.Context, getter Getter, announce string, infoHash InfoHash, left uint64, cfg Config) (*TrackerResponse, error) {
	requestURL := buildAnnounceURL(announce, infoHash, cfg.PeerID, cfg.Port, left)
	slog.Debug("announcing to http tracker", "tracker", announce, "info_hash", infoHash, "left", left)

	body, err := getter.Get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	return ParseAnnounceResponse(body)
}

/*
Announce asks the torrent's trackers for peers. Trackers are tried in the
order of Metadata.Trackers and the first successful reply is returned.

Parameters:
  - ctx: Cancels the announces.
  - meta: Torrent metadata.
  - infoHash: Info hash of the torrent.
  - cfg: Client configuration.
  - getter: HTTP GET collaborator used for http(s) trackers.

Returns:
  - *TrackerResponse: Reply of the first tracker that answered.
  - error: All tracker errors joined when none answered.
*/
func Announce(ctx context.Context, meta *Metadata, infoHash InfoHash, cfg Config, getter Getter) (*TrackerResponse, error) {
	trackers := meta.Trackers()
	if len(trackers) == 0 {
		return nil, fmt.Errorf("%w: torrent lists no trackers", ErrUnsupportedTracker)
	}

	var errs []error

	for _, announce := range trackers {
		resp, err := announceOne(ctx, getter, announce, infoHash, meta.Info.Length, cfg)
		if err == nil {
			slog.Info("tracker answered", "tracker", announce, "peers", len(resp.Peers), "interval", resp.Interval)
			return resp, nil
		}

		slog.Info("tracker failed", "tracker", announce, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", announce, err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, errors.Join(errs...)
}

func announceOne(ctx context.Context, getter Getter, announce string, infoHash InfoHash, left uint64, cfg Config) (*TrackerResponse, error) {
	switch {
	case isHTTP(announce):
		ctx, cancel := context.WithTimeout(ctx, cfg.TrackerTimeout)
		defer cancel()
		return AnnounceHTTP(ctx, getter, announce, infoHash, left, cfg)
	case isUDP(announce):
		return AnnounceUDP(ctx, announce, infoHash, left, cfg)
	default:
		if u, err := url.Parse(announce); err == nil && u.Scheme != "" {
			return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedTracker, u.Scheme)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTracker, announce)
	}
}

// --------------------------------------------------------------------------------------------- //
