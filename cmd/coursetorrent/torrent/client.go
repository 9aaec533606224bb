// Package torrent keeps per-torrent tracker state: announce tiers, known
// peers and tracker statistics.
//
// All state lives in the storage namespaces and is read back on every call.
// Calls on the same infohash from several goroutines are not coordinated: two
// concurrent Announce or InvalidatePeer calls may overwrite each other's peer
// list.
package torrent

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/metainfo"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/storage"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/tracker"
)

const (
	announcesNamespace = "announces"
	peersNamespace     = "peers"
	statsNamespace     = "stats"
)

const (
	DefaultPort       = 6881
	DefaultPeerIDSeed = "204289318879"
)

type options struct {
	logger *zap.Logger
	rnd    *rand.Rand
	port   int
	seed   string
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRand sets the source used for the peer id and for tier shuffling.
func WithRand(rnd *rand.Rand) Option {
	return func(o *options) { o.rnd = rnd }
}

// WithPort sets the port announced to trackers.
func WithPort(port int) Option {
	return func(o *options) { o.port = port }
}

// WithPeerIDSeed sets the string whose SHA-1 forms the fixed part of the peer
// id.
func WithPeerIDSeed(seed string) Option {
	return func(o *options) { o.seed = seed }
}

// Client is the tracker-facing side of a BitTorrent client.
type Client struct {
	announces storage.Store
	peers     storage.Store
	stats     storage.Store

	announcer *tracker.Announcer
	scraper   *tracker.Scraper

	rndMu  sync.Mutex
	rnd    *rand.Rand
	peerID string
	port   int
	logger *zap.Logger
}

func NewClient(opener storage.Opener, transport tracker.Transport, opts ...Option) (*Client, error) {
	o := options{
		logger: zap.L(),
		port:   DefaultPort,
		seed:   DefaultPeerIDSeed,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rnd == nil {
		o.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	c := &Client{
		announcer: tracker.NewAnnouncer(transport, o.logger),
		scraper:   tracker.NewScraper(transport, o.logger),
		rnd:       o.rnd,
		peerID:    tracker.NewPeerID(o.seed, o.rnd),
		port:      o.port,
		logger:    o.logger,
	}

	var err error
	if c.announces, err = opener.Open(announcesNamespace); err != nil {
		return nil, err
	}
	if c.peers, err = opener.Open(peersNamespace); err != nil {
		return nil, err
	}
	if c.stats, err = opener.Open(statsNamespace); err != nil {
		return nil, err
	}
	return c, nil
}

// PeerID returns the peer id sent with every announce.
func (c *Client) PeerID() string { return c.peerID }

// Load validates a torrent file and makes it available under its infohash.
func (c *Client) Load(raw []byte) (string, error) {
	meta, err := metainfo.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	_, loaded, err := storage.Live(c.announces, meta.InfoHash)
	if err != nil {
		return "", err
	}
	if loaded {
		return "", fmt.Errorf("%w: %s", ErrAlreadyLoaded, meta.InfoHash)
	}

	if err := c.savePeers(meta.InfoHash, nil); err != nil {
		return "", err
	}
	if err := c.saveStats(meta.InfoHash, map[string]tracker.Record{}); err != nil {
		return "", err
	}
	// The announces entry is what marks the torrent as loaded, so it goes last.
	if err := c.announces.Write(meta.InfoHash, meta.RawAnnounces); err != nil {
		return "", fmt.Errorf("failed to store announce tiers: %w", err)
	}

	c.logger.Info("Loaded torrent",
		zap.String("infohash", meta.InfoHash),
		zap.Int("tiers", len(meta.Tiers())))
	return meta.InfoHash, nil
}

// Unload removes a loaded torrent and all state kept for it.
func (c *Client) Unload(infohash string) error {
	if _, err := c.loadedTiers(infohash); err != nil {
		return err
	}
	for _, store := range []storage.Store{c.announces, c.peers, c.stats} {
		if err := storage.Remove(store, infohash); err != nil {
			return fmt.Errorf("failed to unload %s: %w", infohash, err)
		}
	}
	c.logger.Info("Unloaded torrent", zap.String("infohash", infohash))
	return nil
}

// Announces returns the announce tiers in their stored order.
func (c *Client) Announces(infohash string) ([][]string, error) {
	return c.loadedTiers(infohash)
}

// Announce sends an announce to the first tracker, in tier order, that
// answers without a failure reason, and returns the interval it asked for.
//
// A Started event shuffles the tier order first and stores it. Every tracker
// that failed on the way gets a Failure record, even when Announce returns a
// *tracker.TrackerFailure.
func (c *Client) Announce(ctx context.Context, infohash string, event tracker.Event, uploaded, downloaded, left int64) (int, error) {
	tiers, err := c.loadedTiers(infohash)
	if err != nil {
		return 0, err
	}
	if event == tracker.Started {
		tiers = c.shuffleTiers(tiers)
		encoded, err := encodeTiers(tiers)
		if err != nil {
			return 0, err
		}
		if err := c.announces.Write(infohash, encoded); err != nil {
			return 0, fmt.Errorf("failed to store shuffled tiers: %w", err)
		}
	}

	rawHash, err := hex.DecodeString(infohash)
	if err != nil {
		return 0, fmt.Errorf("invalid infohash %q: %w", infohash, err)
	}
	result := c.announcer.Announce(ctx, tiers, tracker.AnnounceRequest{
		InfoHash:   rawHash,
		PeerID:     c.peerID,
		Port:       c.port,
		Uploaded:   uploaded,
		Downloaded: downloaded,
		Left:       left,
		Event:      event,
	})

	stats, err := c.loadStats(infohash)
	if err != nil {
		return 0, err
	}
	for _, failure := range result.Failures {
		stats[tracker.Identity(failure.URL)] = tracker.Failure{Reason: failure.Reason}
	}

	success := result.Success
	if success != nil {
		identity := tracker.Identity(success.URL)
		if merged, changed := tracker.MergeAnnounce(stats[identity], success.Complete, success.Incomplete); changed {
			stats[identity] = merged
		}
		if err := c.savePeers(infohash, success.Peers); err != nil {
			return 0, err
		}
	}
	if err := c.saveStats(infohash, stats); err != nil {
		return 0, err
	}

	if err := result.Err(); err != nil {
		return 0, err
	}
	c.logger.Info("Announced",
		zap.String("infohash", infohash),
		zap.String("tracker", success.URL),
		zap.Int("peers", len(success.Peers)),
		zap.Int64("interval", success.Interval))
	return int(success.Interval), nil
}

// Scrape asks every tracker of the torrent for statistics. A tracker that
// answers replaces its record; trackers that cannot be scraped keep theirs.
func (c *Client) Scrape(ctx context.Context, infohash string) error {
	tiers, err := c.loadedTiers(infohash)
	if err != nil {
		return err
	}
	rawHash, err := hex.DecodeString(infohash)
	if err != nil {
		return fmt.Errorf("invalid infohash %q: %w", infohash, err)
	}

	result := c.scraper.Scrape(ctx, tiers, rawHash)
	if result.Problems != nil {
		c.logger.Warn("Some trackers returned unusable scrape responses",
			zap.String("infohash", infohash),
			zap.Error(result.Problems))
	}

	stats, err := c.loadStats(infohash)
	if err != nil {
		return err
	}
	for identity, record := range result.Records {
		stats[identity] = record
	}
	return c.saveStats(infohash, stats)
}

// InvalidatePeer forgets peer until the next successful announce. Unknown
// peers are ignored.
func (c *Client) InvalidatePeer(infohash string, peer tracker.Peer) error {
	peers, err := c.loadPeers(infohash)
	if err != nil {
		return err
	}
	remaining := lo.Filter(peers, func(p tracker.Peer, _ int) bool { return p != peer })
	if len(remaining) == len(peers) {
		return nil
	}
	c.logger.Debug("Invalidated peer",
		zap.String("infohash", infohash),
		zap.Stringer("peer", peer))
	return c.savePeers(infohash, remaining)
}

// KnownPeers returns the distinct known peers in ascending IP order.
func (c *Client) KnownPeers(infohash string) ([]tracker.Peer, error) {
	peers, err := c.loadPeers(infohash)
	if err != nil {
		return nil, err
	}
	peers = lo.Uniq(peers)
	sortPeers(peers)
	return peers, nil
}

// TrackerStats returns the latest record of every tracker that was ever
// reached, keyed by tracker identity.
func (c *Client) TrackerStats(infohash string) (map[string]tracker.Record, error) {
	if _, err := c.loadedTiers(infohash); err != nil {
		return nil, err
	}
	return c.loadStats(infohash)
}

func (c *Client) loadedTiers(infohash string) ([][]string, error) {
	raw, ok, err := storage.Live(c.announces, infohash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, infohash)
	}
	return decodeTiers(raw)
}

func (c *Client) loadPeers(infohash string) ([]tracker.Peer, error) {
	if _, err := c.loadedTiers(infohash); err != nil {
		return nil, err
	}
	raw, ok, err := storage.Live(c.peers, infohash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return unmarshalPeers(raw)
}

func (c *Client) savePeers(infohash string, peers []tracker.Peer) error {
	encoded, err := marshalPeers(peers)
	if err != nil {
		return err
	}
	if err := c.peers.Write(infohash, encoded); err != nil {
		return fmt.Errorf("failed to store peers: %w", err)
	}
	return nil
}

func (c *Client) loadStats(infohash string) (map[string]tracker.Record, error) {
	raw, ok, err := storage.Live(c.stats, infohash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]tracker.Record{}, nil
	}
	return unmarshalStats(raw)
}

func (c *Client) saveStats(infohash string, stats map[string]tracker.Record) error {
	encoded, err := marshalStats(stats)
	if err != nil {
		return err
	}
	if err := c.stats.Write(infohash, encoded); err != nil {
		return fmt.Errorf("failed to store tracker stats: %w", err)
	}
	return nil
}
