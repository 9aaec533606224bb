package torrent

import (
	"fmt"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/bencode"
)

// decodeTiers reads the stored announce value: either the raw "announce"
// string of the torrent file, which is a single tier of one tracker, or a
// list of tiers.
func decodeTiers(raw []byte) ([][]string, error) {
	value, err := bencode.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode announce tiers: %w", err)
	}

	switch v := value.(type) {
	case bencode.String:
		return [][]string{{string(v)}}, nil
	case bencode.List:
		tiers := make([][]string, 0, len(v))
		for i, item := range v {
			tier, ok := item.(bencode.List)
			if !ok {
				return nil, fmt.Errorf("announce tier %d is not a list", i)
			}
			urls := make([]string, 0, len(tier))
			for _, u := range tier {
				s, ok := u.(bencode.String)
				if !ok {
					return nil, fmt.Errorf("announce tier %d holds a non-string tracker", i)
				}
				urls = append(urls, string(s))
			}
			tiers = append(tiers, urls)
		}
		return tiers, nil
	default:
		return nil, fmt.Errorf("stored announce value is a %T", value)
	}
}

func encodeTiers(tiers [][]string) ([]byte, error) {
	list := make(bencode.List, 0, len(tiers))
	for _, tier := range tiers {
		urls := make(bencode.List, 0, len(tier))
		for _, u := range tier {
			urls = append(urls, bencode.String(u))
		}
		list = append(list, urls)
	}
	return bencode.Encode(list)
}

// shuffleTiers returns a copy of tiers with the tier order permuted. Trackers
// keep their order inside each tier.
func (c *Client) shuffleTiers(tiers [][]string) [][]string {
	shuffled := append([][]string(nil), tiers...)

	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	c.rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}
