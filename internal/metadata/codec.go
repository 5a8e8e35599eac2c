// Package metadata encodes and decodes Shoutcast/Icecast in-band ICY
// metadata blocks: a one-byte length (in units of 16 bytes) followed by
// that many bytes of zero-padded "StreamTitle='...';StreamUrl='...';"
// text.
package metadata

import (
	"regexp"
)

const blockUnit = 16

// Metadata holds the current title/url of a source's now-playing info.
type Metadata struct {
	Title string
	URL   string
}

var metadataPattern = regexp.MustCompile(`^StreamTitle='(.*?)';StreamUrl='(.*?)';$`)

// Encode produces the self-delimiting ICY metadata block for title/url.
// Absent metadata (both empty) encodes as the single byte 0x00.
func Encode(title, url string) []byte {
	if title == "" && url == "" {
		return []byte{0x00}
	}
	body := "StreamTitle='" + title + "';StreamUrl='" + url + "';"
	n := (len(body) + blockUnit - 1) / blockUnit
	padded := make([]byte, n*blockUnit)
	copy(padded, body)

	out := make([]byte, 1+len(padded))
	out[0] = byte(n)
	copy(out[1:], padded)
	return out
}

// Decode parses a collected metadata block's *body* (everything after the
// count byte, i.e. exactly 16*N bytes) back into title/url. Trailing NULs
// are stripped before matching. ok is false when the body does not match
// the expected literal form.
func Decode(body []byte) (title, url string, ok bool) {
	trimmed := body
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == 0x00 {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if len(trimmed) == 0 {
		return "", "", true
	}
	m := metadataPattern.FindSubmatch(trimmed)
	if m == nil {
		return "", "", false
	}
	return string(m[1]), string(m[2]), true
}
