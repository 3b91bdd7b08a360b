package hash

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/twmb/murmur3"
)

// Digests holds the content hashes computed for one favicon
type Digests struct {
	MD5  string `json:"md5"`
	MMH3 string `json:"mmh3"`
}

// Compute hashes favicon bytes exactly as received
func Compute(data []byte) Digests {
	return Digests{
		MD5:  MD5Hex(data),
		MMH3: FaviconMMH3(data),
	}
}

// MD5Hex returns the lowercase hexadecimal MD5 of data (32 chars)
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// FaviconMMH3 returns the signed 32-bit MurmurHash3 of the MIME base64 form of
// data (76-char lines, trailing newline), the favicon hash Shodan and FOFA index.
func FaviconMMH3(data []byte) string {
	return strconv.FormatInt(int64(int32(murmur3.Sum32(mimeBase64(data)))), 10)
}

func mimeBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	if encoded == "" {
		return nil
	}

	var b strings.Builder
	b.Grow(len(encoded) + len(encoded)/76 + 1)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteByte('\n')
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteByte('\n')
	return []byte(b.String())
}
