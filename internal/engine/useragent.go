package engine

import "math/rand/v2"

// User-Agent strings used across HTTP clients.
const (
	UserAgentBot     = "GoTunes/1.0"
	UserAgentAndroid = "com.google.android.youtube/19.09.37 (Linux; Android 12)"
)

// userAgents is the fixed pool the scrape path rotates through so consecutive
// page fetches don't share a fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
}

// RandomUserAgent returns one entry from the fixed pool.
func RandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

// ChromeHeaders returns common browser headers with a rotated User-Agent.
func ChromeHeaders() map[string]string {
	return map[string]string{
		"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"accept-language": "en-US,en;q=0.9",
		"accept-encoding": "gzip, deflate, br",
		"user-agent":      RandomUserAgent(),
	}
}
