package tracker

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/bencode"
)

// ScrapeResult maps tracker identities to the record each reached tracker
// produced. Problems aggregates per-tracker errors that produced no record.
type ScrapeResult struct {
	Records  map[string]Record
	Problems error
}

type Scraper struct {
	transport Transport
	logger    *zap.Logger
}

func NewScraper(transport Transport, logger *zap.Logger) *Scraper {
	return &Scraper{transport: transport, logger: logger}
}

// Scrape queries every distinct tracker across all tiers, one at a time.
// Trackers whose URL cannot be turned into a scrape URL are skipped.
func (s *Scraper) Scrape(ctx context.Context, tiers [][]string, infoHash []byte) *ScrapeResult {
	result := &ScrapeResult{Records: make(map[string]Record)}

	for _, trackerURL := range lo.Uniq(lo.Flatten(tiers)) {
		target, ok := scrapeURL(trackerURL, infoHash)
		if !ok {
			s.logger.Debug("Tracker does not support scrape", zap.String("tracker", trackerURL))
			continue
		}

		identity := Identity(trackerURL)
		body, err := s.transport.Get(ctx, target)
		if err != nil {
			s.logger.Info("Tracker scrape failed", zap.String("tracker", trackerURL), zap.Error(err))
			result.Records[identity] = Failure{Reason: ConnectionFailed}
			continue
		}

		record, err := parseScrapeResponse(body, infoHash)
		if err != nil {
			result.Problems = multierr.Append(result.Problems, fmt.Errorf("%s: %w", trackerURL, err))
			continue
		}
		result.Records[identity] = record
	}
	return result
}

func parseScrapeResponse(body []byte, infoHash []byte) (Record, error) {
	decoded, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scrape response: %w", err)
	}
	dict, ok := decoded.(*bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("scrape response is not a dictionary")
	}

	if reason, ok := dict.GetString("failure reason"); ok {
		return Failure{Reason: reason}, nil
	}

	files, ok := dict.GetDict("files")
	if !ok {
		return nil, fmt.Errorf("scrape response has no files dictionary")
	}
	entry, ok := files.GetDict(string(infoHash))
	if !ok {
		return nil, fmt.Errorf("scrape response has no entry for the torrent")
	}

	scrape := Scrape{}
	scrape.Complete, _ = entry.GetInt("complete")
	scrape.Downloaded, _ = entry.GetInt("downloaded")
	scrape.Incomplete, _ = entry.GetInt("incomplete")
	if name, ok := entry.GetString("name"); ok {
		scrape.Name = &name
	}
	return scrape, nil
}
