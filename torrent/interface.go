package torrent

import "context"

// --------------------------------------------------------------------------------------------- //

// Load opens a .torrent file and computes its info hash.
func Load(path string) (*Metadata, InfoHash, error) {
	meta, err := Open(path)
	if err != nil {
		return nil, InfoHash{}, err
	}

	infoHash, err := ComputeInfoHash(meta)
	if err != nil {
		return nil, InfoHash{}, err
	}

	return meta, infoHash, nil
}

// FindConnections announces to the torrent's trackers over net/http and UDP
// and returns the peers of the first tracker that answers.
func FindConnections(ctx context.Context, meta *Metadata, infoHash InfoHash, cfg Config) ([]PeerAddress, error) {
	response, err := Announce(ctx, meta, infoHash, cfg, NewHTTPGetter(cfg.TrackerTimeout))
	if err != nil {
		return nil, err
	}

	return response.Peers, nil
}

// --------------------------------------------------------------------------------------------- //
