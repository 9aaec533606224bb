package tracker

import (
	"net/url"
	"strconv"
	"strings"
)

// Identity is the key tracker statistics are stored under: the announce URL
// without its "/announce" suffix.
func Identity(announceURL string) string {
	return strings.TrimSuffix(announceURL, "/announce")
}

func announceURL(trackerURL string, req AnnounceRequest) string {
	params := url.Values{
		"info_hash":  []string{string(req.InfoHash)},
		"peer_id":    []string{req.PeerID},
		"port":       []string{strconv.Itoa(req.Port)},
		"uploaded":   []string{strconv.FormatInt(req.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(req.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(req.Left, 10)},
		"compact":    []string{"1"},
	}
	if req.Event != Regular {
		params.Set("event", req.Event.String())
	}
	return withQuery(trackerURL, params)
}

// scrapeURL rewrites an announce URL to its scrape URL. It reports false when
// the last path segment does not start with "announce", in which case the
// tracker does not support scraping.
func scrapeURL(trackerURL string, infoHash []byte) (string, bool) {
	u, err := url.Parse(trackerURL)
	if err != nil {
		return "", false
	}
	slash := strings.LastIndex(u.Path, "/")
	if slash == -1 {
		return "", false
	}
	last := u.Path[slash+1:]
	if !strings.HasPrefix(last, "announce") {
		return "", false
	}
	u.Path = u.Path[:slash+1] + "scrape" + strings.TrimPrefix(last, "announce")
	u.RawPath = ""

	return withQuery(u.String(), url.Values{"info_hash": []string{string(infoHash)}}), true
}

func withQuery(base string, params url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
