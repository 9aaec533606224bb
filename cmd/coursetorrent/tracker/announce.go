package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/bencode"
)

// AnnounceRequest holds the parameters sent to every tracker.
type AnnounceRequest struct {
	InfoHash   []byte
	PeerID     string
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
}

// Outcome is a single failed tracker contact.
type Outcome struct {
	URL    string
	Reason string
}

// AnnounceResponse is the useful part of a successful tracker response.
type AnnounceResponse struct {
	URL        string
	Interval   int64
	Peers      []Peer
	Complete   *int64
	Incomplete *int64
	Warning    string
}

// AnnounceResult lists every tracker that failed, in contact order, and the
// response of the tracker that succeeded, if any.
type AnnounceResult struct {
	Failures []Outcome
	Success  *AnnounceResponse
}

// Err returns a *TrackerFailure carrying the last failure reason when no
// tracker succeeded.
func (r *AnnounceResult) Err() error {
	if r.Success != nil {
		return nil
	}
	message := "no trackers"
	if len(r.Failures) > 0 {
		message = r.Failures[len(r.Failures)-1].Reason
	}
	return &TrackerFailure{Message: message}
}

// Announcer contacts trackers one at a time until one of them answers.
type Announcer struct {
	transport Transport
	logger    *zap.Logger
}

func NewAnnouncer(transport Transport, logger *zap.Logger) *Announcer {
	return &Announcer{transport: transport, logger: logger}
}

// Announce walks the tiers in order, and the trackers of each tier in order,
// stopping at the first tracker that returns a response without a failure
// reason. Requests are never issued concurrently.
func (a *Announcer) Announce(ctx context.Context, tiers [][]string, req AnnounceRequest) *AnnounceResult {
	result := &AnnounceResult{}
	for _, tier := range tiers {
		for _, trackerURL := range tier {
			resp, reason := a.announceTo(ctx, trackerURL, req)
			if resp == nil {
				a.logger.Info("Tracker announce failed",
					zap.String("tracker", trackerURL),
					zap.String("reason", reason))
				result.Failures = append(result.Failures, Outcome{URL: trackerURL, Reason: reason})
				continue
			}
			if resp.Warning != "" {
				a.logger.Warn("Tracker warning",
					zap.String("tracker", trackerURL),
					zap.String("warning", resp.Warning))
			}
			result.Success = resp
			return result
		}
	}
	return result
}

func (a *Announcer) announceTo(ctx context.Context, trackerURL string, req AnnounceRequest) (*AnnounceResponse, string) {
	body, err := a.transport.Get(ctx, announceURL(trackerURL, req))
	if err != nil {
		a.logger.Debug("Tracker unreachable", zap.String("tracker", trackerURL), zap.Error(err))
		return nil, ConnectionFailed
	}

	resp, reason, err := parseAnnounceResponse(body)
	if err != nil {
		a.logger.Debug("Invalid tracker response", zap.String("tracker", trackerURL), zap.Error(err))
		return nil, InvalidResponse
	}
	if resp == nil {
		return nil, reason
	}
	resp.URL = trackerURL
	return resp, ""
}

// parseAnnounceResponse returns either a response or the tracker's failure
// reason. A missing "peers" key is an empty peer list, and a missing or
// negative "interval" is 0.
func parseAnnounceResponse(body []byte) (*AnnounceResponse, string, error) {
	decoded, err := bencode.Decode(body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode tracker response: %w", err)
	}
	dict, ok := decoded.(*bencode.Dict)
	if !ok {
		return nil, "", fmt.Errorf("tracker response is not a dictionary")
	}

	if _, present := dict.Get("failure reason"); present {
		reason, ok := dict.GetString("failure reason")
		if !ok {
			return nil, "", fmt.Errorf("failure reason is not a string")
		}
		return nil, reason, nil
	}

	resp := &AnnounceResponse{Peers: []Peer{}}
	if value, present := dict.Get("interval"); present {
		interval, ok := value.(bencode.Int)
		if !ok {
			return nil, "", fmt.Errorf("interval is not an integer")
		}
		resp.Interval = max(int64(interval), 0)
	}
	if value, present := dict.Get("peers"); present {
		peers, err := ParsePeers(value)
		if err != nil {
			return nil, "", err
		}
		resp.Peers = peers
	}
	if complete, ok := dict.GetInt("complete"); ok {
		resp.Complete = &complete
	}
	if incomplete, ok := dict.GetInt("incomplete"); ok {
		resp.Incomplete = &incomplete
	}
	resp.Warning, _ = dict.GetString("warning message")
	return resp, "", nil
}
