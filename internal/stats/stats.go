// Package stats provides the human-readable formatting helpers the
// admin/API introspection endpoints use to render byte counts and
// uptimes. The counters themselves live on stream.Registry, stream.Source
// and stream.Listener (each already carries the fields spec.md §3 names
// for it); this package no longer duplicates them.
package stats

import "time"

// FormatBytes formats bytes into a human-readable string, e.g. "4.21 MiB".
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return formatInt(bytes) + " B"
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return formatFloat(float64(bytes)/float64(div)) + " " + string("KMGTPE"[exp]) + "iB"
}

// FormatDuration formats a duration into a human-readable string, e.g.
// "2h 05m 11s".
func FormatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	pad2 := func(n int) string { return padLeft(intToString(int64(n)), 2, '0') }

	if days > 0 {
		return intToString(int64(days)) + "d " + pad2(hours) + "h " + pad2(minutes) + "m"
	}
	if hours > 0 {
		return intToString(int64(hours)) + "h " + pad2(minutes) + "m " + pad2(seconds) + "s"
	}
	if minutes > 0 {
		return intToString(int64(minutes)) + "m " + pad2(seconds) + "s"
	}
	return intToString(int64(seconds)) + "s"
}

func formatInt(n int64) string {
	if n < 0 {
		return "-" + formatInt(-n)
	}
	if n < 1000 {
		return intToString(n)
	}
	return formatInt(n/1000) + "," + padLeft(intToString(n%1000), 3, '0')
}

func formatFloat(f float64) string {
	return floatToString(f, 2)
}

func intToString(n int64) string {
	if n == 0 {
		return "0"
	}
	var result []byte
	for n > 0 {
		result = append([]byte{byte('0' + n%10)}, result...)
		n /= 10
	}
	return string(result)
}

func floatToString(f float64, precision int) string {
	if f < 0 {
		return "-" + floatToString(-f, precision)
	}

	intPart := int64(f)
	result := intToString(intPart) + "."

	f -= float64(intPart)
	for i := 0; i < precision; i++ {
		f *= 10
		result += string(byte('0' + int(f)%10))
	}

	return result
}

func padLeft(s string, length int, pad byte) string {
	for len(s) < length {
		s = string(pad) + s
	}
	return s
}
