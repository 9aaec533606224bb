package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"slices"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/bencode"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/config"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/metainfo"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/storage"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/torrent"
	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/tracker"
)

var logLevel = zap.NewAtomicLevel()

func init() {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = logLevel
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

type handler func(args []string) error

var commands = map[string]struct {
	run     handler
	failure string
}{
	"decode":     {handleDecode, "Failed to decode"},
	"info":       {handleInfo, "Failed to get info"},
	"load":       {handleLoad, "Failed to load torrent"},
	"unload":     {handleUnload, "Failed to unload torrent"},
	"announces":  {handleAnnounces, "Failed to get announce tiers"},
	"announce":   {handleAnnounce, "Failed to announce"},
	"scrape":     {handleScrape, "Failed to scrape"},
	"peers":      {handlePeers, "Failed to get peers"},
	"invalidate": {handleInvalidate, "Failed to invalidate peer"},
	"stats":      {handleStats, "Failed to get tracker stats"},
}

func main() {
	logger := zap.L()
	defer logger.Sync() //nolint:errcheck

	if len(os.Args) < 2 {
		names := lo.Keys(commands)
		slices.Sort(names)
		logger.Error("Command is required", zap.Strings("commands", names))
		os.Exit(1)
	}
	command := os.Args[1]

	cmd, ok := commands[command]
	if !ok {
		logger.Error("Unknown command", zap.String("command", command))
		os.Exit(1)
	}
	if err := cmd.run(os.Args); err != nil {
		logger.Error(cmd.failure, zap.Error(err))
		os.Exit(1)
	}
}

// Command handlers

func handleDecode(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: decode <bencoded-value>")
	}
	decoded, err := bencode.Decode([]byte(args[2]))
	if err != nil {
		return err
	}
	jsonOutput, err := json.Marshal(jsonValue(decoded))
	if err != nil {
		return err
	}
	fmt.Println(string(jsonOutput))
	return nil
}

func handleInfo(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: info <torrent-file>")
	}
	fileContent, err := os.ReadFile(args[2])
	if err != nil {
		return fmt.Errorf("failed to read torrent file: %w", err)
	}

	meta, err := metainfo.Parse(fileContent)
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", meta.Announce)
	for i, tier := range meta.Tiers() {
		fmt.Printf("Tier %d: %v\n", i, tier)
	}
	fmt.Printf("Info Hash: %s\n", meta.InfoHash)
	if name, ok := meta.Info.GetString("name"); ok {
		fmt.Printf("Name: %s\n", name)
	}
	if length, ok := meta.Info.GetInt("length"); ok {
		fmt.Printf("Length: %d (%s)\n", length, datasize.ByteSize(length).HumanReadable())
	}
	if pieceLength, ok := meta.Info.GetInt("piece length"); ok {
		fmt.Printf("Piece Length: %d\n", pieceLength)
	}
	if pieces, ok := meta.Info.GetString("pieces"); ok {
		fmt.Println("Piece Hashes:")
		for i := 0; i+20 <= len(pieces); i += 20 {
			fmt.Printf("%x\n", pieces[i:i+20])
		}
	}
	return nil
}

func handleLoad(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: load <torrent-file>")
	}
	fileContent, err := os.ReadFile(args[2])
	if err != nil {
		return fmt.Errorf("failed to read torrent file: %w", err)
	}
	return withClient(func(_ context.Context, client *torrent.Client) error {
		infohash, err := client.Load(fileContent)
		if err != nil {
			return err
		}
		fmt.Println(infohash)
		return nil
	})
}

func handleUnload(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: unload <infohash>")
	}
	return withClient(func(_ context.Context, client *torrent.Client) error {
		return client.Unload(args[2])
	})
}

func handleAnnounces(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: announces <infohash>")
	}
	return withClient(func(_ context.Context, client *torrent.Client) error {
		tiers, err := client.Announces(args[2])
		if err != nil {
			return err
		}
		for i, tier := range tiers {
			fmt.Printf("Tier %d: %v\n", i, tier)
		}
		return nil
	})
}

func handleAnnounce(args []string) error {
	if len(args) != 7 {
		return fmt.Errorf("usage: announce <infohash> <event> <uploaded> <downloaded> <left>")
	}
	event, err := tracker.ParseEvent(args[3])
	if err != nil {
		return err
	}
	sizes := make([]int64, 3)
	for i, arg := range args[4:7] {
		if sizes[i], err = parseSize(arg); err != nil {
			return err
		}
	}

	return withClient(func(ctx context.Context, client *torrent.Client) error {
		interval, err := client.Announce(ctx, args[2], event, sizes[0], sizes[1], sizes[2])
		if err != nil {
			return err
		}
		fmt.Printf("Interval: %d\n", interval)
		return nil
	})
}

func handleScrape(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: scrape <infohash>")
	}
	return withClient(func(ctx context.Context, client *torrent.Client) error {
		if err := client.Scrape(ctx, args[2]); err != nil {
			return err
		}
		return printStats(client, args[2])
	})
}

func handlePeers(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: peers <infohash>")
	}
	return withClient(func(_ context.Context, client *torrent.Client) error {
		peers, err := client.KnownPeers(args[2])
		if err != nil {
			return err
		}
		for _, peer := range peers {
			fmt.Println(peer)
		}
		return nil
	})
}

func handleInvalidate(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: invalidate <infohash> <ip:port>")
	}
	host, portStr, err := net.SplitHostPort(args[3])
	if err != nil {
		return fmt.Errorf("invalid peer address: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid peer port: %w", err)
	}

	return withClient(func(_ context.Context, client *torrent.Client) error {
		return client.InvalidatePeer(args[2], tracker.Peer{IP: host, Port: uint16(port)})
	})
}

func handleStats(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: stats <infohash>")
	}
	return withClient(func(_ context.Context, client *torrent.Client) error {
		return printStats(client, args[2])
	})
}

// Helpers

// withClient opens the configured state file and tracker transport for the
// duration of fn.
func withClient(fn func(ctx context.Context, client *torrent.Client) error) (err error) {
	logger := zap.L()

	cfg, err := config.Load(os.Environ())
	if err != nil {
		return err
	}
	logLevel.SetLevel(cfg.LogLevel)

	db, err := storage.OpenBolt(cfg.StorePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, db.Close())
	}()

	transport := tracker.NewHTTPTransport(cfg.HTTPOptions(), logger)
	defer func() {
		requests, failures := transport.Stats()
		logger.Debug("Tracker requests", zap.Int64("sent", requests), zap.Int64("failed", failures))
	}()

	client, err := torrent.NewClient(db, transport, append(cfg.ClientOptions(), torrent.WithLogger(logger))...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return fn(ctx, client)
}

func printStats(client *torrent.Client, infohash string) error {
	stats, err := client.TrackerStats(infohash)
	if err != nil {
		return err
	}
	identities := lo.Keys(stats)
	slices.Sort(identities)

	for _, identity := range identities {
		switch record := stats[identity].(type) {
		case tracker.Scrape:
			name := ""
			if record.Name != nil {
				name = " name=" + *record.Name
			}
			fmt.Printf("%s: complete=%d downloaded=%d incomplete=%d%s\n",
				identity, record.Complete, record.Downloaded, record.Incomplete, name)
		case tracker.Failure:
			fmt.Printf("%s: failure %q\n", identity, record.Reason)
		}
	}
	return nil
}

// parseSize accepts plain byte counts as well as sizes such as "10MB".
func parseSize(arg string) (int64, error) {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size %d", n)
		}
		return n, nil
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(arg)); err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", arg, err)
	}
	return int64(size.Bytes()), nil
}

// jsonValue converts a decoded bencode value into something encoding/json
// prints the way the value reads.
func jsonValue(value bencode.Value) any {
	switch v := value.(type) {
	case bencode.Int:
		return int64(v)
	case bencode.String:
		return string(v)
	case bencode.List:
		return lo.Map(v, func(item bencode.Value, _ int) any { return jsonValue(item) })
	case *bencode.Dict:
		return lo.SliceToMap(v.Keys(), func(key string) (string, any) {
			item, _ := v.Get(key)
			return key, jsonValue(item)
		})
	default:
		return nil
	}
}
