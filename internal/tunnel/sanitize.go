// ABOUTME: Redacts credentials from subprocess output before it is logged or published
// ABOUTME: Covers explicit secrets, token flags, cloudflared tokens, and tailscale auth keys

package tunnel

import (
	"regexp"
	"strings"
)

const (
	redacted         = "[REDACTED]"
	maxMessageLength = 512
)

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(--token[=\s]+|token=|token:\s*)\S+`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_\-]{16,}[A-Za-z0-9_\-.=]*`),
	regexp.MustCompile(`tskey-[A-Za-z0-9\-]+`),
}

// sanitize removes secrets from msg and bounds its length.
func sanitize(msg string, secrets ...string) string {
	for _, s := range secrets {
		if s != "" {
			msg = strings.ReplaceAll(msg, s, redacted)
		}
	}
	for _, re := range secretPatterns {
		msg = re.ReplaceAllStringFunc(msg, func(match string) string {
			sub := re.FindStringSubmatch(match)
			if len(sub) > 1 {
				return sub[1] + redacted
			}
			return redacted
		})
	}
	msg = strings.TrimSpace(msg)
	if len(msg) > maxMessageLength {
		msg = msg[:maxMessageLength] + "..."
	}
	return msg
}
