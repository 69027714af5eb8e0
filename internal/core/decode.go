package core

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// DecodeSubscriptionBody turns a raw subscription feed body into candidate
// URI lines. Feeds come either as plain newline-separated URIs or as a
// base64 wrapper around that; base64 decoding is attempted at most twice
// to unwrap double-encoded feeds.
func DecodeSubscriptionBody(body string) []string {
	text := strings.TrimSpace(body)
	for i := 0; i < 2; i++ {
		if strings.Contains(text, "://") || !looksBase64(text) {
			break
		}
		decoded, ok := tryBase64(text)
		if !ok {
			break
		}
		text = strings.TrimSpace(decoded)
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func looksBase64(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '-' || r == '_' || r == '=':
		case r == '\n' || r == '\r':
		default:
			return false
		}
	}
	return true
}

func tryBase64(s string) (string, bool) {
	compact := strings.NewReplacer("\n", "", "\r", "").Replace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if raw, err := enc.DecodeString(compact); err == nil {
			return string(raw), true
		}
	}
	return "", false
}

// ParseUsageHeader parses a subscription-userinfo header of the form
// "upload=123; download=456; total=789; expire=1700000000". Returns nil
// when no recognized field is present.
func ParseUsageHeader(header string) *Usage {
	var (
		usage Usage
		found bool
	)
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "upload":
			usage.Upload = n
			found = true
		case "download":
			usage.Download = n
			found = true
		case "total":
			total := n
			usage.Total = &total
			found = true
		case "expire":
			if n > 0 {
				t := time.Unix(n, 0).UTC()
				usage.Expire = &t
				found = true
			}
		}
	}
	if !found {
		return nil
	}
	return &usage
}
