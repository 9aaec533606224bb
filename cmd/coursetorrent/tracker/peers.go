package tracker

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/bencode"
)

// ParsePeers decodes the "peers" value of an announce response, which is
// either a compact byte string or a list of peer dictionaries.
func ParsePeers(value bencode.Value) ([]Peer, error) {
	switch v := value.(type) {
	case bencode.String:
		return parseCompactPeers(v)
	case bencode.List:
		return parseDictionaryPeers(v)
	default:
		return nil, fmt.Errorf("invalid peers data format: %T", value)
	}
}

// parseCompactPeers decodes 6 bytes per peer: IPv4 address then port, both
// big-endian.
func parseCompactPeers(peersData []byte) ([]Peer, error) {
	if len(peersData)%6 != 0 {
		return nil, fmt.Errorf("compact peer list length %d is not a multiple of 6", len(peersData))
	}

	peers := make([]Peer, 0, len(peersData)/6)
	for i := 0; i < len(peersData); i += 6 {
		peers = append(peers, Peer{
			IP:   net.IP(peersData[i : i+4]).String(),
			Port: binary.BigEndian.Uint16(peersData[i+4 : i+6]),
		})
	}
	return peers, nil
}

func parseDictionaryPeers(list bencode.List) ([]Peer, error) {
	peers := make([]Peer, 0, len(list))
	for i, item := range list {
		dict, ok := item.(*bencode.Dict)
		if !ok {
			return nil, fmt.Errorf("peer %d is not a dictionary", i)
		}
		ip, ok := dict.GetString("ip")
		if !ok {
			return nil, fmt.Errorf("peer %d has no ip", i)
		}
		port, ok := dict.GetInt("port")
		if !ok || port < 0 || port > 65535 {
			return nil, fmt.Errorf("peer %d has an invalid port", i)
		}
		peerID, _ := dict.GetString("peer id")
		peers = append(peers, Peer{IP: ip, Port: uint16(port), PeerID: peerID})
	}
	return peers, nil
}
