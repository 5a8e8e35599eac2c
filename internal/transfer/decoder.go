// Package transfer implements the stateful on-wire-to-payload byte
// decoders used by the ingestion handler and the relay fetcher: identity
// passthrough, a fixed-length framing, and RFC 7230 chunked framing.
package transfer

import (
	"strconv"
	"strings"

	"github.com/icestream/icestream/internal/icerr"
)

// Decoder converts on-wire body bytes into decoded payload bytes. A
// single call to Decode may consume any prefix of input (possibly none)
// and emit any number of decoded bytes (possibly none); it stops
// consuming early only once Finished() is true or on an error, and the
// returned consumed count says how much of input was used.
type Decoder interface {
	// Decode appends newly decoded payload bytes onto dst and returns the
	// updated slice along with the number of input bytes consumed.
	Decode(dst []byte, input []byte) (out []byte, consumed int, err error)
	// Finished reports whether no further bytes will ever be produced.
	Finished() bool
}

// NewDecoder selects a Decoder the way spec.md §4.4 step 5 requires:
// identity+length or no-transfer-encoding+length -> length-framed;
// chunked+no-length -> chunked; identity/none without length -> identity.
// Any other combination is a protocol error.
func NewDecoder(transferEncoding, contentLength string) (Decoder, error) {
	te := strings.ToLower(strings.TrimSpace(transferEncoding))
	hasLength := contentLength != ""

	switch {
	case te == "" && hasLength:
		n, err := strconv.ParseInt(contentLength, 10, 64)
		if err != nil || n < 0 {
			return nil, icerr.Protocol("invalid content-length")
		}
		return NewLength(n), nil
	case te == "identity" && hasLength:
		n, err := strconv.ParseInt(contentLength, 10, 64)
		if err != nil || n < 0 {
			return nil, icerr.Protocol("invalid content-length")
		}
		return NewLength(n), nil
	case te == "chunked" && !hasLength:
		return NewChunked(), nil
	case te == "" && !hasLength:
		return NewIdentity(), nil
	case te == "identity" && !hasLength:
		return NewIdentity(), nil
	default:
		return nil, icerr.Protocol("unsupported transfer-encoding/content-length combination")
	}
}

// Identity passes bytes through unchanged, forever; it is never finished.
type Identity struct{}

func NewIdentity() *Identity { return &Identity{} }

func (d *Identity) Decode(dst, input []byte) ([]byte, int, error) {
	return append(dst, input...), len(input), nil
}

func (d *Identity) Finished() bool { return false }

// Length passes bytes through until N have been produced.
type Length struct {
	remaining int64
}

func NewLength(n int64) *Length { return &Length{remaining: n} }

func (d *Length) Decode(dst, input []byte) ([]byte, int, error) {
	if d.remaining <= 0 {
		return dst, 0, nil
	}
	take := int64(len(input))
	if take > d.remaining {
		take = d.remaining
	}
	d.remaining -= take
	return append(dst, input[:take]...), int(take), nil
}

func (d *Length) Finished() bool { return d.remaining == 0 }

// chunkedState is the parser phase of the RFC 7230 chunked decoder.
type chunkedState int

const (
	csSize    chunkedState = iota // accumulating hex chunk-size digits
	csSizeExt                     // inside a chunk-extension (";...") until CRLF
	csData                        // copying `remaining` bytes of chunk data
	csDataCR                      // expect '\r' then '\n' trailing the chunk data
	csDataLF
	csTrailer // after a zero-size chunk: trailer lines/final CRLF, all discarded
	csDone
)

// Chunked implements RFC 7230 chunked transfer decoding, ignoring chunk
// extensions and trailer fields. Grounded on the teacher's reference
// material's stream_decoder.rs state machine, with the trailing-CRLF
// byte count corrected: a chunk of N bytes requires exactly N+2 bytes
// (body plus CRLF) before the next chunk-size line, not N+4.
type Chunked struct {
	state      chunkedState
	sizeDigits []byte
	remaining  int64
	trailerLineEmpty bool
}

func NewChunked() *Chunked {
	return &Chunked{state: csSize}
}

func (d *Chunked) Finished() bool { return d.state == csDone }

func (d *Chunked) Decode(dst, input []byte) ([]byte, int, error) {
	consumed := 0
	for consumed < len(input) {
		if d.state == csDone {
			break
		}
		b := input[consumed]
		switch d.state {
		case csSize:
			switch {
			case b == ';':
				d.state = csSizeExt
				consumed++
			case b == '\r':
				consumed++
			case b == '\n':
				n, err := strconv.ParseInt(string(d.sizeDigits), 16, 64)
				if err != nil || n < 0 {
					return dst, consumed, icerr.Protocol("invalid chunk size")
				}
				d.sizeDigits = d.sizeDigits[:0]
				consumed++
				if n == 0 {
					d.state = csTrailer
					d.trailerLineEmpty = true
				} else {
					d.remaining = n
					d.state = csData
				}
			case isHex(b):
				d.sizeDigits = append(d.sizeDigits, b)
				consumed++
			default:
				return dst, consumed, icerr.Protocol("invalid chunk size digit")
			}
		case csSizeExt:
			consumed++
			if b == '\n' {
				n, err := strconv.ParseInt(string(d.sizeDigits), 16, 64)
				if err != nil || n < 0 {
					return dst, consumed, icerr.Protocol("invalid chunk size")
				}
				d.sizeDigits = d.sizeDigits[:0]
				if n == 0 {
					d.state = csTrailer
					d.trailerLineEmpty = true
				} else {
					d.remaining = n
					d.state = csData
				}
			}
		case csData:
			avail := int64(len(input) - consumed)
			take := d.remaining
			if take > avail {
				take = avail
			}
			dst = append(dst, input[consumed:consumed+int(take)]...)
			consumed += int(take)
			d.remaining -= take
			if d.remaining == 0 {
				d.state = csDataCR
			}
		case csDataCR:
			consumed++
			if b != '\r' {
				return dst, consumed, icerr.Protocol("missing chunk trailing CRLF")
			}
			d.state = csDataLF
		case csDataLF:
			consumed++
			if b != '\n' {
				return dst, consumed, icerr.Protocol("missing chunk trailing CRLF")
			}
			d.state = csSize
		case csTrailer:
			consumed++
			switch b {
			case '\r':
				// part of a line terminator; ignored either way
			case '\n':
				if d.trailerLineEmpty {
					d.state = csDone
				}
				d.trailerLineEmpty = true
			default:
				d.trailerLineEmpty = false
			}
		}
	}
	return dst, consumed, nil
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
