package torrent

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"math/rand"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap/zaptest"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/bencode"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/storage"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/tracker"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/tracker/trackertest"
)

const (
	debianAnnounce = "http://bttracker.debian.org:6969/announce"
	debianIdentity = "http://bttracker.debian.org:6969"
	randSeed       = 7
)

type fixture struct {
	client    *Client
	store     *storage.Memory
	transport *trackertest.Transport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     storage.NewMemory(),
		transport: trackertest.New(),
	}
	client, err := NewClient(f.store, f.transport,
		WithLogger(zaptest.NewLogger(t)),
		WithRand(rand.New(rand.NewSource(randSeed))))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	f.client = client
	return f
}

func (f *fixture) load(t *testing.T, raw []byte) string {
	t.Helper()
	infohash, err := f.client.Load(raw)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return infohash
}

func info() *bencode.Dict {
	return bencode.MustDict(
		bencode.Pair{Key: "name", Value: bencode.String("lame.iso")},
		bencode.Pair{Key: "length", Value: bencode.Int(1024)},
		bencode.Pair{Key: "piece length", Value: bencode.Int(512)},
		bencode.Pair{Key: "pieces", Value: bencode.String(strings.Repeat("p", 40))},
	)
}

func buildTorrent(t *testing.T, announce string, tiers [][]string) []byte {
	t.Helper()
	pairs := []bencode.Pair{{Key: "announce", Value: bencode.String(announce)}}
	if tiers != nil {
		list := bencode.List{}
		for _, tier := range tiers {
			urls := bencode.List{}
			for _, u := range tier {
				urls = append(urls, bencode.String(u))
			}
			list = append(list, urls)
		}
		pairs = append(pairs, bencode.Pair{Key: "announce-list", Value: list})
	}
	pairs = append(pairs, bencode.Pair{Key: "info", Value: info()})

	raw, err := bencode.Encode(bencode.MustDict(pairs...))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

func rawHash(t *testing.T, infohash string) string {
	t.Helper()
	b, err := hex.DecodeString(infohash)
	if err != nil {
		t.Fatalf("hex.DecodeString() error = %v", err)
	}
	return string(b)
}

func TestLoad(t *testing.T) {
	f := newFixture(t)
	raw := buildTorrent(t, debianAnnounce, nil)

	infohash := f.load(t, raw)

	encodedInfo, _ := bencode.Encode(info())
	sum := sha1.Sum(encodedInfo)
	if want := hex.EncodeToString(sum[:]); infohash != want {
		t.Errorf("Load() = %s, want %s", infohash, want)
	}

	if _, err := f.client.Load(raw); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("second Load() error = %v, want ErrAlreadyLoaded", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "Malformed bencode", input: "d8:announce"},
		{name: "Missing info", input: "d8:announce3:urle"},
		{name: "Bad announce-list", input: "d8:announce3:url13:announce-listl3:urle4:infodee"},
		{name: "Not a dictionary", input: "i1e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if _, err := f.client.Load([]byte(tt.input)); !errors.Is(err, ErrValidation) {
				t.Errorf("Load(%q) error = %v, want ErrValidation", tt.input, err)
			}
		})
	}
}

func TestAnnouncesSingleAnnounce(t *testing.T) {
	f := newFixture(t)
	infohash := f.load(t, buildTorrent(t, debianAnnounce, nil))

	tiers, err := f.client.Announces(infohash)
	if err != nil {
		t.Fatalf("Announces() error = %v", err)
	}
	if want := [][]string{{debianAnnounce}}; !reflect.DeepEqual(tiers, want) {
		t.Errorf("Announces() = %v, want %v", tiers, want)
	}
}

func TestAnnouncesAnnounceList(t *testing.T) {
	f := newFixture(t)
	want := [][]string{
		{"http://a.test/announce", "http://b.test/announce"},
		{"http://c.test/announce"},
		{"http://d.test/announce"},
	}
	infohash := f.load(t, buildTorrent(t, "http://a.test/announce", want))

	for i := 0; i < 3; i++ {
		tiers, err := f.client.Announces(infohash)
		if err != nil {
			t.Fatalf("Announces() error = %v", err)
		}
		if !reflect.DeepEqual(tiers, want) {
			t.Errorf("Announces() = %v, want %v", tiers, want)
		}
	}
}

func TestNotLoaded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := strings.Repeat("0", 40)

	checks := map[string]error{
		"Unload":         f.client.Unload(missing),
		"Scrape":         f.client.Scrape(ctx, missing),
		"InvalidatePeer": f.client.InvalidatePeer(missing, tracker.Peer{IP: "1.2.3.4", Port: 1}),
	}
	_, checks["Announces"] = f.client.Announces(missing)
	_, checks["Announce"] = f.client.Announce(ctx, missing, tracker.Started, 0, 0, 0)
	_, checks["KnownPeers"] = f.client.KnownPeers(missing)
	_, checks["TrackerStats"] = f.client.TrackerStats(missing)

	for name, err := range checks {
		if !errors.Is(err, ErrNotLoaded) {
			t.Errorf("%s() error = %v, want ErrNotLoaded", name, err)
		}
	}
	if len(f.transport.Requests()) != 0 {
		t.Errorf("no tracker should be contacted, got %v", f.transport.Requests())
	}
}

func TestUnload(t *testing.T) {
	f := newFixture(t)
	raw := buildTorrent(t, debianAnnounce, nil)
	infohash := f.load(t, raw)

	f.transport.Respond(debianAnnounce, "d8:completei1e8:intervali60e5:peers6:\x7f\x00\x00\x01\x1a\xe1e")
	if _, err := f.client.Announce(context.Background(), infohash, tracker.Regular, 0, 0, 0); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	if err := f.client.Unload(infohash); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}
	if _, err := f.client.Announces(infohash); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Announces() after Unload error = %v, want ErrNotLoaded", err)
	}
	if err := f.client.Unload(infohash); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("second Unload() error = %v, want ErrNotLoaded", err)
	}

	if again := f.load(t, raw); again != infohash {
		t.Errorf("reload infohash = %s, want %s", again, infohash)
	}
	peers, _ := f.client.KnownPeers(infohash)
	stats, _ := f.client.TrackerStats(infohash)
	if len(peers) != 0 || len(stats) != 0 {
		t.Errorf("reloaded torrent kept state: peers %v, stats %v", peers, stats)
	}
}

func TestAnnounceCompactPeers(t *testing.T) {
	f := newFixture(t)
	infohash := f.load(t, buildTorrent(t, debianAnnounce, nil))
	f.transport.Respond(debianAnnounce,
		"d8:completei0e10:downloadedi2e10:incompletei2e8:intervali1950e12:min intervali975e5:peers12:012301987612e")

	interval, err := f.client.Announce(context.Background(), infohash, tracker.Started, 0, 0, 2703360)
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if interval != 1950 {
		t.Errorf("Announce() = %d, want 1950", interval)
	}

	peers, err := f.client.KnownPeers(infohash)
	if err != nil {
		t.Fatalf("KnownPeers() error = %v", err)
	}
	want := []tracker.Peer{
		{IP: "48.49.50.51", Port: 0x3031},
		{IP: "57.56.55.54", Port: 0x3132},
	}
	if !reflect.DeepEqual(peers, want) {
		t.Errorf("KnownPeers() = %v, want %v", peers, want)
	}

	q := f.transport.LastQuery()
	if q.Get("info_hash") != rawHash(t, infohash) {
		t.Errorf("info_hash = %x, want raw infohash", q.Get("info_hash"))
	}
	if q.Get("peer_id") != f.client.PeerID() || q.Get("left") != "2703360" || q.Get("event") != "started" {
		t.Errorf("unexpected announce query %v", q)
	}
}

func TestAnnounceFailure(t *testing.T) {
	f := newFixture(t)
	infohash := f.load(t, buildTorrent(t, debianAnnounce, nil))
	ctx := context.Background()

	f.transport.Respond(debianAnnounce, "d8:intervali1950e5:peers6:012301e")
	if _, err := f.client.Announce(ctx, infohash, tracker.Started, 0, 0, 0); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	f.transport.Respond(debianAnnounce, "d14:failure reason1:fe")
	_, err := f.client.Announce(ctx, infohash, tracker.Regular, 0, 0, 0)

	var failure *tracker.TrackerFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Announce() error = %v, want *tracker.TrackerFailure", err)
	}
	if failure.Message != "f" {
		t.Errorf("TrackerFailure.Message = %q, want %q", failure.Message, "f")
	}

	peers, _ := f.client.KnownPeers(infohash)
	if want := []tracker.Peer{{IP: "48.49.50.51", Port: 0x3031}}; !reflect.DeepEqual(peers, want) {
		t.Errorf("failed announce changed peers: %v", peers)
	}
	stats, _ := f.client.TrackerStats(infohash)
	if want := map[string]tracker.Record{debianIdentity: tracker.Failure{Reason: "f"}}; !reflect.DeepEqual(stats, want) {
		t.Errorf("TrackerStats() = %s, want %s", spew.Sdump(stats), spew.Sdump(want))
	}
}

func TestAnnounceRecordsEveryFailedTracker(t *testing.T) {
	f := newFixture(t)
	tiers := [][]string{
		{"http://a.test/announce", "http://b.test/announce"},
		{"http://c.test/announce"},
	}
	infohash := f.load(t, buildTorrent(t, "http://a.test/announce", tiers))
	f.transport.Respond("http://b.test/announce", "d14:failure reason4:busye")
	f.transport.Respond("http://c.test/announce", "d8:completei3e8:intervali600e5:peers0:e")

	interval, err := f.client.Announce(context.Background(), infohash, tracker.Regular, 0, 0, 0)
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if interval != 600 {
		t.Errorf("Announce() = %d, want 600", interval)
	}

	stats, _ := f.client.TrackerStats(infohash)
	want := map[string]tracker.Record{
		"http://a.test": tracker.Failure{Reason: tracker.ConnectionFailed},
		"http://b.test": tracker.Failure{Reason: "busy"},
		"http://c.test": tracker.Scrape{Complete: 3},
	}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("TrackerStats() = %s, want %s", spew.Sdump(stats), spew.Sdump(want))
	}
}

func TestAnnounceAllTrackersUnreachable(t *testing.T) {
	f := newFixture(t)
	infohash := f.load(t, buildTorrent(t, debianAnnounce, nil))

	_, err := f.client.Announce(context.Background(), infohash, tracker.Regular, 0, 0, 0)
	var failure *tracker.TrackerFailure
	if !errors.As(err, &failure) || failure.Message != tracker.ConnectionFailed {
		t.Fatalf("Announce() error = %v, want %q", err, tracker.ConnectionFailed)
	}
	stats, _ := f.client.TrackerStats(infohash)
	if want := (tracker.Failure{Reason: tracker.ConnectionFailed}); stats[debianIdentity] != want {
		t.Errorf("TrackerStats()[%s] = %v, want %v", debianIdentity, stats[debianIdentity], want)
	}
}

func TestStartedShufflesTiers(t *testing.T) {
	f := newFixture(t)
	tiers := [][]string{
		{"http://a.test/announce", "http://a2.test/announce"},
		{"http://b.test/announce"},
		{"http://c.test/announce"},
		{"http://d.test/announce", "http://d2.test/announce"},
		{"http://e.test/announce"},
		{"http://f.test/announce"},
	}
	infohash := f.load(t, buildTorrent(t, "http://a.test/announce", tiers))
	ctx := context.Background()

	// Mirror the client's source: the peer id is drawn first, then the shuffle.
	rnd := rand.New(rand.NewSource(randSeed))
	tracker.NewPeerID(DefaultPeerIDSeed, rnd)
	want := append([][]string(nil), tiers...)
	rnd.Shuffle(len(want), func(i, j int) { want[i], want[j] = want[j], want[i] })

	_, _ = f.client.Announce(ctx, infohash, tracker.Started, 0, 0, 0)

	got, err := f.client.Announces(infohash)
	if err != nil {
		t.Fatalf("Announces() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Announces() after started = %v, want %v", got, want)
	}
	if bases := f.transport.Bases(); len(bases) == 0 || bases[0] != want[0][0] {
		t.Errorf("first tracker contacted = %v, want %s", bases, want[0][0])
	}

	_, _ = f.client.Announce(ctx, infohash, tracker.Regular, 0, 0, 0)
	_, _ = f.client.Announce(ctx, infohash, tracker.Completed, 0, 0, 0)
	if again, _ := f.client.Announces(infohash); !reflect.DeepEqual(again, want) {
		t.Errorf("non-started announces changed tier order: %v", again)
	}
}

func TestKnownPeersNumericOrder(t *testing.T) {
	f := newFixture(t)
	infohash := f.load(t, buildTorrent(t, debianAnnounce, nil))
	f.transport.Respond(debianAnnounce, "d8:intervali60e5:peersl"+
		"d2:ip11:127.0.0.1004:porti1ee"+
		"d2:ip9:127.0.0.24:porti2e7:peer id20:-XX0001-abcdefghijkle"+
		"d2:ip11:127.0.0.1004:porti1ee"+
		"d2:ip8:10.0.0.94:porti3ee"+
		"ee")

	if _, err := f.client.Announce(context.Background(), infohash, tracker.Regular, 0, 0, 0); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	peers, err := f.client.KnownPeers(infohash)
	if err != nil {
		t.Fatalf("KnownPeers() error = %v", err)
	}
	want := []tracker.Peer{
		{IP: "10.0.0.9", Port: 3},
		{IP: "127.0.0.2", Port: 2, PeerID: "-XX0001-abcdefghijkl"},
		{IP: "127.0.0.100", Port: 1},
	}
	if !reflect.DeepEqual(peers, want) {
		t.Errorf("KnownPeers() = %v, want %v", peers, want)
	}
}

func TestInvalidatePeer(t *testing.T) {
	f := newFixture(t)
	infohash := f.load(t, buildTorrent(t, debianAnnounce, nil))
	ctx := context.Background()
	f.transport.Respond(debianAnnounce, "d8:intervali1950e5:peers12:012301987612e")

	if _, err := f.client.Announce(ctx, infohash, tracker.Started, 0, 0, 0); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	if err := f.client.InvalidatePeer(infohash, tracker.Peer{IP: "1.1.1.1", Port: 1}); err != nil {
		t.Fatalf("InvalidatePeer() of unknown peer error = %v", err)
	}
	if peers, _ := f.client.KnownPeers(infohash); len(peers) != 2 {
		t.Errorf("unknown peer invalidation changed peers: %v", peers)
	}

	if err := f.client.InvalidatePeer(infohash, tracker.Peer{IP: "57.56.55.54", Port: 0x3132}); err != nil {
		t.Fatalf("InvalidatePeer() error = %v", err)
	}
	peers, _ := f.client.KnownPeers(infohash)
	if want := []tracker.Peer{{IP: "48.49.50.51", Port: 0x3031}}; !reflect.DeepEqual(peers, want) {
		t.Errorf("KnownPeers() after invalidation = %v, want %v", peers, want)
	}

	if _, err := f.client.Announce(ctx, infohash, tracker.Regular, 0, 0, 0); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if peers, _ := f.client.KnownPeers(infohash); len(peers) != 2 {
		t.Errorf("announce should restore invalidated peer, got %v", peers)
	}
}

func TestScrapeOverwritesAndAnnounceMerges(t *testing.T) {
	f := newFixture(t)
	infohash := f.load(t, buildTorrent(t, debianAnnounce, nil))
	ctx := context.Background()
	hash := rawHash(t, infohash)
	scrapeURL := "http://bttracker.debian.org:6969/scrape"

	f.transport.Respond(scrapeURL, "d5:filesd20:"+hash+"d8:completei5e10:downloadedi50e10:incompletei10e4:name1:xeee")
	if err := f.client.Scrape(ctx, infohash); err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	name := "x"
	assertStats(t, f, infohash, tracker.Scrape{Complete: 5, Downloaded: 50, Incomplete: 10, Name: &name})

	f.transport.Respond(debianAnnounce, "d8:completei0e10:incompletei2e8:intervali1950e5:peers0:e")
	if _, err := f.client.Announce(ctx, infohash, tracker.Regular, 0, 0, 0); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	assertStats(t, f, infohash, tracker.Scrape{Complete: 0, Downloaded: 50, Incomplete: 2, Name: &name})

	f.transport.Respond(scrapeURL, "d5:filesd20:"+hash+"d8:completei5e10:downloadedi50e10:incompletei10eeee")
	if err := f.client.Scrape(ctx, infohash); err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	assertStats(t, f, infohash, tracker.Scrape{Complete: 5, Downloaded: 50, Incomplete: 10})
}

func TestScrapeFailureKeepsOtherTrackers(t *testing.T) {
	f := newFixture(t)
	tiers := [][]string{
		{"http://a.test/announce"},
		{"http://b.test/tracker"},
	}
	infohash := f.load(t, buildTorrent(t, "http://a.test/announce", tiers))
	ctx := context.Background()

	f.transport.Respond("http://b.test/tracker", "d8:completei9e8:intervali60e5:peers0:e")
	if _, err := f.client.Announce(ctx, infohash, tracker.Regular, 0, 0, 0); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	if err := f.client.Scrape(ctx, infohash); err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	stats, _ := f.client.TrackerStats(infohash)
	want := map[string]tracker.Record{
		"http://a.test":         tracker.Failure{Reason: tracker.ConnectionFailed},
		"http://b.test/tracker": tracker.Scrape{Complete: 9},
	}
	if !reflect.DeepEqual(stats, want) {
		t.Errorf("TrackerStats() = %s, want %s", spew.Sdump(stats), spew.Sdump(want))
	}
}

func TestStatePersistsAcrossClients(t *testing.T) {
	logger := zaptest.NewLogger(t)
	db, err := storage.OpenBolt(filepath.Join(t.TempDir(), "state.db"), logger)
	if err != nil {
		t.Fatalf("OpenBolt() error = %v", err)
	}
	defer db.Close()

	transport := trackertest.New()
	transport.Respond(debianAnnounce, "d8:completei4e8:intervali60e5:peers6:\x7f\x00\x00\x01\x1a\xe1e")

	first, err := NewClient(db, transport, WithLogger(logger))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	infohash, err := first.Load(buildTorrent(t, debianAnnounce, nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := first.Announce(context.Background(), infohash, tracker.Regular, 0, 0, 0); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	second, err := NewClient(db, transport, WithLogger(logger))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	peers, err := second.KnownPeers(infohash)
	if err != nil {
		t.Fatalf("KnownPeers() error = %v", err)
	}
	if want := []tracker.Peer{{IP: "127.0.0.1", Port: 6881}}; !reflect.DeepEqual(peers, want) {
		t.Errorf("KnownPeers() = %v, want %v", peers, want)
	}
	stats, _ := second.TrackerStats(infohash)
	if want := (tracker.Scrape{Complete: 4}); !reflect.DeepEqual(stats[debianIdentity], want) {
		t.Errorf("TrackerStats() = %v", stats)
	}
}

func assertStats(t *testing.T, f *fixture, infohash string, want tracker.Record) {
	t.Helper()
	stats, err := f.client.TrackerStats(infohash)
	if err != nil {
		t.Fatalf("TrackerStats() error = %v", err)
	}
	expected := map[string]tracker.Record{debianIdentity: want}
	if !reflect.DeepEqual(stats, expected) {
		t.Errorf("TrackerStats() = %s, want %s", spew.Sdump(stats), spew.Sdump(expected))
	}
}

func TestAnnounceIntervalDefaults(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "Missing interval", body: "d5:peers12:012301987612e"},
		{name: "Negative interval", body: "d8:intervali-5e5:peers12:012301987612e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			infohash := f.load(t, buildTorrent(t, debianAnnounce, nil))
			f.transport.Respond(debianAnnounce, tt.body)

			interval, err := f.client.Announce(context.Background(), infohash, tracker.Regular, 0, 0, 0)
			if err != nil {
				t.Fatalf("Announce() error = %v", err)
			}
			if interval != 0 {
				t.Errorf("Announce() = %d, want 0", interval)
			}
			if peers, _ := f.client.KnownPeers(infohash); len(peers) != 2 {
				t.Errorf("KnownPeers() = %v, want the two announced peers", peers)
			}
		})
	}
}
