package console

import "fmt"

// FormatLoad renders 1/5/10-minute load averages, as given, as the
// slash-separated triple used in debug log lines.
func FormatLoad(ld1, ld5, ld10 float64) string {
	return fmt.Sprintf("%.2f/%.2f/%.2f", ld1, ld5, ld10)
}

func FormatPercent(processed, total int64) string {
	if total <= 0 {
		return "0%"
	}
	percent := float64(processed) / float64(total) * 100
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return fmt.Sprintf("%.2f%%", percent)
}
