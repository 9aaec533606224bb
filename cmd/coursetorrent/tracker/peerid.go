package tracker

import (
	"crypto/sha1"
	"encoding/hex"
	"math/rand"
)

const (
	peerIDPrefix  = "-CS1000-"
	peerIDCharset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewPeerID builds a 20 byte peer id: "-CS1000-", the first 6 hex characters
// of SHA-1(seed), and 6 random alphanumeric characters.
func NewPeerID(seed string, rnd *rand.Rand) string {
	sum := sha1.Sum([]byte(seed))
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = peerIDCharset[rnd.Intn(len(peerIDCharset))]
	}
	return peerIDPrefix + hex.EncodeToString(sum[:])[:6] + string(suffix)
}
