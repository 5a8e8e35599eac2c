package stats

import (
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:           "0 B",
		512:         "512 B",
		1536:        "1.50 KiB",
		1048576:     "1.00 MiB",
		1073741824:  "1.00 GiB",
	}
	for in, want := range cases {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[time.Duration]string{
		5 * time.Second:                     "5s",
		90 * time.Second:                    "1m 30s",
		2*time.Hour + 5*time.Minute + 11*time.Second: "2h 05m 11s",
		25 * time.Hour:                      "1d 01h 00m",
	}
	for in, want := range cases {
		if got := FormatDuration(in); got != want {
			t.Errorf("FormatDuration(%s) = %q, want %q", in, got, want)
		}
	}
}
