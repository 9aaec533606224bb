// Package metainfo validates torrent metainfo files and computes infohashes.
package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mcheviron/coursetorrent/cmd/coursetorrent/bencode"
)

// ErrInvalid is returned for metainfo that decodes but has the wrong shape.
var ErrInvalid = errors.New("invalid metainfo")

// MetaInfo is a decoded metainfo dictionary that passed IsValid.
type MetaInfo struct {
	InfoHash     string
	Announce     string
	AnnounceList [][]string
	Info         *bencode.Dict

	// RawAnnounces holds the encoded "announce-list" value, or the encoded
	// "announce" value when there is no announce-list, exactly as found in
	// the file.
	RawAnnounces []byte
}

// Parse decodes, validates and hashes a torrent file.
func Parse(raw []byte) (*MetaInfo, error) {
	decoded, err := bencode.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metainfo: %w", err)
	}
	if !IsValid(decoded) {
		return nil, ErrInvalid
	}

	flat, err := bencode.DecodeFlatDictionary(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to split metainfo: %w", err)
	}

	dict := decoded.(*bencode.Dict)
	info, _ := dict.GetDict("info")
	announce, _ := dict.GetString("announce")

	meta := &MetaInfo{
		InfoHash:     hashRaw(flat["info"]),
		Announce:     announce,
		Info:         info,
		RawAnnounces: flat["announce"],
	}
	if list, ok := dict.GetList("announce-list"); ok && len(list) > 0 {
		meta.AnnounceList = tierStrings(list)
		meta.RawAnnounces = flat["announce-list"]
	}
	return meta, nil
}

// Tiers returns the announce tiers: the announce-list when present, otherwise
// a single tier holding the announce URL.
func (m *MetaInfo) Tiers() [][]string {
	if m.AnnounceList != nil {
		return m.AnnounceList
	}
	return [][]string{{m.Announce}}
}

// IsValid reports whether value is a dictionary with an "info" dictionary, an
// "announce" string and, if present, an "announce-list" made of lists of
// strings.
func IsValid(value bencode.Value) bool {
	dict, ok := value.(*bencode.Dict)
	if !ok {
		return false
	}
	if _, ok := dict.GetDict("info"); !ok {
		return false
	}
	if _, ok := dict.GetString("announce"); !ok {
		return false
	}
	if _, present := dict.Get("announce-list"); present {
		list, ok := dict.GetList("announce-list")
		if !ok {
			return false
		}
		for _, tier := range list {
			urls, ok := tier.(bencode.List)
			if !ok {
				return false
			}
			for _, u := range urls {
				if _, ok := u.(bencode.String); !ok {
					return false
				}
			}
		}
	}
	return true
}

// InfoHash returns the lowercase hex SHA-1 of the raw "info" value of a
// bencoded torrent. The bytes are hashed as they appear in raw, never
// re-encoded.
func InfoHash(raw []byte) (string, error) {
	flat, err := bencode.DecodeFlatDictionary(raw)
	if err != nil {
		return "", fmt.Errorf("failed to split metainfo: %w", err)
	}
	info, ok := flat["info"]
	if !ok {
		return "", fmt.Errorf("%w: missing info dictionary", ErrInvalid)
	}
	return hashRaw(info), nil
}

func hashRaw(info []byte) string {
	sum := sha1.Sum(info)
	return hex.EncodeToString(sum[:])
}

func tierStrings(list bencode.List) [][]string {
	tiers := make([][]string, 0, len(list))
	for _, tier := range list {
		urls := tier.(bencode.List)
		converted := make([]string, 0, len(urls))
		for _, u := range urls {
			converted = append(converted, string(u.(bencode.String)))
		}
		tiers = append(tiers, converted)
	}
	return tiers
}
