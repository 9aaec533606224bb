package torrent

import (
	"cmp"
	"encoding/binary"
	"net"
	"slices"
	"strings"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/tracker"
)

// sortPeers orders peers by the numeric value of their IPv4 address, so
// 127.0.0.2 comes before 127.0.0.100. Addresses that are not IPv4 go last,
// in string order.
func sortPeers(peers []tracker.Peer) {
	slices.SortFunc(peers, func(a, b tracker.Peer) int {
		if c := cmp.Compare(ipValue(a.IP), ipValue(b.IP)); c != 0 {
			return c
		}
		if c := strings.Compare(a.IP, b.IP); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Port, b.Port); c != 0 {
			return c
		}
		return strings.Compare(a.PeerID, b.PeerID)
	})
}

func ipValue(ip string) uint64 {
	v4 := net.ParseIP(ip).To4()
	if v4 == nil {
		return 1 << 32
	}
	return uint64(binary.BigEndian.Uint32(v4))
}
