// Package tracker implements the HTTP tracker protocol: announce with
// multi-tier retry, scrape, and peer list decoding.
package tracker

import (
	"context"
	"fmt"
)

// Event is the announce event sent to the tracker.
type Event int

const (
	Regular Event = iota
	Started
	Stopped
	Completed
)

func (e Event) String() string {
	switch e {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	default:
		return ""
	}
}

// ParseEvent maps the wire name of an event back to an Event. Both "" and
// "regular" mean Regular.
func ParseEvent(name string) (Event, error) {
	switch name {
	case "", "regular":
		return Regular, nil
	case "started":
		return Started, nil
	case "stopped":
		return Stopped, nil
	case "completed":
		return Completed, nil
	default:
		return Regular, fmt.Errorf("unknown announce event %q", name)
	}
}

// Peer is a peer returned by a tracker. An empty PeerID means the tracker did
// not send one.
type Peer struct {
	IP     string
	Port   uint16
	PeerID string
}

func (p Peer) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Record is the latest thing known about a tracker: Scrape or Failure.
type Record interface {
	trackerRecord()
}

// Scrape holds tracker statistics. Name is nil when the tracker did not send
// one.
type Scrape struct {
	Complete   int64
	Downloaded int64
	Incomplete int64
	Name       *string
}

// Failure records why the last request to a tracker failed.
type Failure struct {
	Reason string
}

func (Scrape) trackerRecord()  {}
func (Failure) trackerRecord() {}

const (
	// ConnectionFailed is the failure reason recorded for transport errors.
	ConnectionFailed = "Connection failed"
	// InvalidResponse is the failure reason recorded for responses that are
	// not a usable bencoded dictionary.
	InvalidResponse = "Invalid tracker response"
)

// Transport performs tracker HTTP GET requests and returns the raw body.
type Transport interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// TrackerFailure is returned when every tracker of every tier failed.
// Message is the last failure reason seen.
type TrackerFailure struct {
	Message string
}

func (e *TrackerFailure) Error() string {
	return fmt.Sprintf("all trackers failed: %s", e.Message)
}
