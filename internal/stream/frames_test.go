package stream

import "testing"

// A 128kbps, 44.1kHz, no-padding MPEG1 Layer 3 frame header.
var mp3FrameHeader = []byte{0xFF, 0xFB, 0x90, 0x00}

func TestDetectMP3Frame(t *testing.T) {
	if size := DetectMP3Frame(mp3FrameHeader); size <= 0 {
		t.Fatalf("expected a positive frame size, got %d", size)
	}
	if size := DetectMP3Frame([]byte{0x00, 0x00, 0x00, 0x00}); size != 0 {
		t.Fatalf("expected no frame detected, got %d", size)
	}
}

func TestSniffBitrateKbps(t *testing.T) {
	data := append(append([]byte{}, mp3FrameHeader...), make([]byte, 128)...)
	if kbps := SniffBitrateKbps(data); kbps != 128 {
		t.Fatalf("expected 128kbps, got %d", kbps)
	}
	if kbps := SniffBitrateKbps([]byte("not an mp3 frame at all")); kbps != 0 {
		t.Fatalf("expected 0 for non-mp3 data, got %d", kbps)
	}
}

func TestSetBitrateIfUnknown(t *testing.T) {
	s := NewSource("/r", SourceProperties{}, 0)
	s.SetBitrateIfUnknown(128)
	if got := s.Properties().Bitrate; got != 128 {
		t.Fatalf("expected bitrate 128, got %d", got)
	}
	s.SetBitrateIfUnknown(320)
	if got := s.Properties().Bitrate; got != 128 {
		t.Fatalf("expected bitrate to stay 128 once known, got %d", got)
	}
}

func TestSetBitrateIfUnknownLeavesAdvertisedValue(t *testing.T) {
	s := NewSource("/r", SourceProperties{Bitrate: 192}, 0)
	s.SetBitrateIfUnknown(SniffBitrateKbps(mp3FrameHeader))
	if got := s.Properties().Bitrate; got != 192 {
		t.Fatalf("expected advertised bitrate 192 to survive, got %d", got)
	}
}
