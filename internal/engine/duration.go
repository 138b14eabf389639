package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDuration converts "H:MM:SS", "M:SS" or bare seconds into seconds.
// Malformed input yields 0, never an error.
func ParseDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}

	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// FormatDuration renders seconds as "H:MM:SS" or "M:SS". Only the non-leading
// units are zero-padded: 65 → "1:05", 3661 → "1:01:01".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ParseViews converts the view-count shapes sources emit — raw integers,
// "1,234,567 views", "1.2M", "534K" — into a canonical numeric count.
// Anything unparseable is 0.
func ParseViews(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimSuffix(s, " VIEWS")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "N/A" {
		return 0
	}

	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "B"):
		mult, s = 1_000_000_000, strings.TrimSuffix(s, "B")
	case strings.HasSuffix(s, "M"):
		mult, s = 1_000_000, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		mult, s = 1_000, strings.TrimSuffix(s, "K")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(f * float64(mult))
}

// FormatViews renders a numeric count as the short display string the wire
// format carries ("1.2M", "534K"). Counts are numeric internally; this is the
// only place they become display text.
func FormatViews(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return trimZero(fmt.Sprintf("%.1fB", float64(n)/1e9))
	case n >= 1_000_000:
		return trimZero(fmt.Sprintf("%.1fM", float64(n)/1e6))
	case n >= 1_000:
		return trimZero(fmt.Sprintf("%.1fK", float64(n)/1e3))
	case n <= 0:
		return "N/A"
	}
	return strconv.FormatInt(n, 10)
}

// trimZero drops the redundant ".0" from short counts ("1.0M" → "1M").
func trimZero(s string) string {
	return strings.Replace(s, ".0", "", 1)
}
