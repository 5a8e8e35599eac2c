package metadata

import "testing"

func TestEncodeEmptyIsSingleZeroByte(t *testing.T) {
	got := Encode("", "")
	if len(got) != 1 || got[0] != 0x00 {
		t.Fatalf("expected single 0x00 byte, got %v", got)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct{ title, url string }{
		{"x", ""},
		{"Now Playing: Song Title", "http://example.com"},
		{"", "http://example.com/only-url"},
	}
	for _, c := range cases {
		block := Encode(c.title, c.url)
		n := int(block[0])
		if len(block) != 1+n*blockUnit {
			t.Fatalf("block length %d does not match count byte %d", len(block), n)
		}
		gotTitle, gotURL, ok := Decode(block[1:])
		if !ok {
			t.Fatalf("decode failed for %+v", c)
		}
		if gotTitle != c.title || gotURL != c.url {
			t.Fatalf("round trip mismatch: want %+v got title=%q url=%q", c, gotTitle, gotURL)
		}
	}
}

func TestEncodeIsPaddedToSixteenByteBoundary(t *testing.T) {
	block := Encode("x", "")
	n := int(block[0])
	if len(block)%1 != 0 || (len(block)-1)%blockUnit != 0 {
		t.Fatalf("body not padded to 16-byte boundary: len=%d", len(block))
	}
	if n != (len(block)-1)/blockUnit {
		t.Fatalf("count byte %d does not match body length", n)
	}
}

func TestDecodeMalformedFails(t *testing.T) {
	_, _, ok := Decode([]byte("garbage not metadata"))
	if ok {
		t.Fatalf("expected decode failure for malformed body")
	}
}

func TestDecodeEmptyBodyIsAbsent(t *testing.T) {
	title, url, ok := Decode([]byte{})
	if !ok || title != "" || url != "" {
		t.Fatalf("expected absent metadata, got title=%q url=%q ok=%v", title, url, ok)
	}
}
