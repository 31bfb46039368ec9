package perf

import "fmt"

// FormatBytes renders a byte count with a binary unit, e.g. "2.0 KB".
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n) / 1024
	for _, unit := range "KMGTP" {
		if v < 1024 {
			return fmt.Sprintf("%.1f %cB", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f EB", v)
}
