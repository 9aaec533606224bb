package torrent

import (
	"bytes"
	"fmt"
	"slices"

	bencode "github.com/jackpal/bencode-go"
	"github.com/samber/lo"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/tracker"
)

const snapshotVersion = 1

const (
	kindScrape  = "scrape"
	kindFailure = "failure"
)

type peersSnapshot struct {
	Version int64        `bencode:"version"`
	Peers   []peerRecord `bencode:"peers"`
}

type peerRecord struct {
	IP     string `bencode:"ip"`
	Port   int64  `bencode:"port"`
	PeerID string `bencode:"peer id"`
}

type statsSnapshot struct {
	Version  int64         `bencode:"version"`
	Trackers []statsRecord `bencode:"trackers"`
}

type statsRecord struct {
	Tracker    string `bencode:"tracker"`
	Kind       string `bencode:"kind"`
	Complete   int64  `bencode:"complete"`
	Downloaded int64  `bencode:"downloaded"`
	Incomplete int64  `bencode:"incomplete"`
	Name       string `bencode:"name"`
	HasName    int64  `bencode:"has name"`
	Reason     string `bencode:"reason"`
}

func marshalPeers(peers []tracker.Peer) ([]byte, error) {
	snapshot := peersSnapshot{
		Version: snapshotVersion,
		Peers: lo.Map(peers, func(p tracker.Peer, _ int) peerRecord {
			return peerRecord{IP: p.IP, Port: int64(p.Port), PeerID: p.PeerID}
		}),
	}
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, snapshot); err != nil {
		return nil, fmt.Errorf("failed to encode peers: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalPeers(data []byte) ([]tracker.Peer, error) {
	var snapshot peersSnapshot
	if err := bencode.Unmarshal(bytes.NewReader(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode peers: %w", err)
	}
	if snapshot.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported peers snapshot version %d", snapshot.Version)
	}
	return lo.Map(snapshot.Peers, func(r peerRecord, _ int) tracker.Peer {
		return tracker.Peer{IP: r.IP, Port: uint16(r.Port), PeerID: r.PeerID}
	}), nil
}

func marshalStats(stats map[string]tracker.Record) ([]byte, error) {
	keys := lo.Keys(stats)
	slices.Sort(keys)

	snapshot := statsSnapshot{Version: snapshotVersion, Trackers: make([]statsRecord, 0, len(keys))}
	for _, key := range keys {
		record := statsRecord{Tracker: key}
		switch r := stats[key].(type) {
		case tracker.Scrape:
			record.Kind = kindScrape
			record.Complete = r.Complete
			record.Downloaded = r.Downloaded
			record.Incomplete = r.Incomplete
			if r.Name != nil {
				record.Name = *r.Name
				record.HasName = 1
			}
		case tracker.Failure:
			record.Kind = kindFailure
			record.Reason = r.Reason
		default:
			return nil, fmt.Errorf("unknown tracker record %T for %s", r, key)
		}
		snapshot.Trackers = append(snapshot.Trackers, record)
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, snapshot); err != nil {
		return nil, fmt.Errorf("failed to encode tracker stats: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalStats(data []byte) (map[string]tracker.Record, error) {
	var snapshot statsSnapshot
	if err := bencode.Unmarshal(bytes.NewReader(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode tracker stats: %w", err)
	}
	if snapshot.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported stats snapshot version %d", snapshot.Version)
	}

	stats := make(map[string]tracker.Record, len(snapshot.Trackers))
	for _, record := range snapshot.Trackers {
		switch record.Kind {
		case kindScrape:
			scrape := tracker.Scrape{
				Complete:   record.Complete,
				Downloaded: record.Downloaded,
				Incomplete: record.Incomplete,
			}
			if record.HasName != 0 {
				name := record.Name
				scrape.Name = &name
			}
			stats[record.Tracker] = scrape
		case kindFailure:
			stats[record.Tracker] = tracker.Failure{Reason: record.Reason}
		default:
			return nil, fmt.Errorf("unknown tracker record kind %q for %s", record.Kind, record.Tracker)
		}
	}
	return stats, nil
}
