package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
)

var (
	hexRegex = regexp.MustCompile("^[0-9a-fA-F]{40}$")
)

type Magnet struct {
	Name     string `json:"name"`
	InfoHash string `json:"infoHash"`
	Size     int64  `json:"size"`
	Link     string `json:"link"`
}

// GetMagnetInfo parses a magnet URI into its info hash and display name.
func GetMagnetInfo(magnetLink string) (*Magnet, error) {
	if magnetLink == "" {
		return nil, fmt.Errorf("empty magnet link")
	}

	mi, err := metainfo.ParseMagnetUri(magnetLink)
	if err != nil {
		return nil, fmt.Errorf("error parsing magnet link: %w", err)
	}

	magnet := &Magnet{
		InfoHash: mi.InfoHash.HexString(),
		Name:     mi.DisplayName,
		Size:     0,
		Link:     mi.String(),
	}
	return magnet, nil
}

// ExtractInfoHash pulls the urn:btih value out of a magnet URI without a
// full parse. Returns "" when absent or invalid.
func ExtractInfoHash(magnetDesc string) string {
	const prefix = "xt=urn:btih:"
	start := strings.Index(magnetDesc, prefix)
	if start == -1 {
		return ""
	}
	hash := ""
	start += len(prefix)
	end := strings.IndexAny(magnetDesc[start:], "&#")
	if end == -1 {
		hash = magnetDesc[start:]
	} else {
		hash = magnetDesc[start : start+end]
	}
	if !hexRegex.MatchString(hash) {
		return ""
	}
	return strings.ToLower(hash)
}

// IsHexHash reports whether s is exactly 40 hex characters.
func IsHexHash(s string) bool {
	return hexRegex.MatchString(s)
}

// ConstructMagnet builds a minimal magnet URI from an info hash and a
// display name.
func ConstructMagnet(infoHash, name string) *Magnet {
	name = url.QueryEscape(strings.TrimSpace(name))
	magnetUri := fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=%s", infoHash, name)
	return &Magnet{
		InfoHash: infoHash,
		Name:     name,
		Size:     0,
		Link:     magnetUri,
	}
}
