// Package redaction masks secret material before it reaches the audit trail.
// Tool inputs routinely carry exported keys ("OPENAI_API_KEY=sk-…") or auth
// headers; the trail must record what ran without persisting credentials.
package redaction

import (
	"regexp"
	"strings"
)

const Placeholder = "[REDACTED]"

// Value shapes that are secrets on their own, wherever they appear.
var secretValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),     // OpenAI-style API keys
	regexp.MustCompile(`ghp_[A-Za-z0-9]{20,}`),      // GitHub personal tokens
	regexp.MustCompile(`gho_[A-Za-z0-9]{20,}`),      // GitHub OAuth tokens
	regexp.MustCompile(`xox[bp]-[A-Za-z0-9-]{10,}`), // Slack tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9._-]{10,}`), // JWTs
}

// key=value / key: value assignments whose key names credentials.
var secretAssignPattern = regexp.MustCompile(
	`(?i)\b([A-Za-z0-9_]*(?:api_?key|secret|password|passwd|credential|access_token)[A-Za-z0-9_]*)(\s*[=:]\s*)(["']?)([^\s"']{6,})(["']?)`)

var pemBlockPattern = regexp.MustCompile(
	`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)

// Mask replaces every recognizable secret in text with the placeholder. The
// surrounding command stays readable so the audit line is still reviewable.
func Mask(text string) string {
	if text == "" {
		return text
	}
	out := pemBlockPattern.ReplaceAllString(text, Placeholder)
	out = secretAssignPattern.ReplaceAllString(out, "$1$2$3"+Placeholder+"$5")
	for _, p := range secretValuePatterns {
		out = p.ReplaceAllString(out, Placeholder)
	}
	return out
}

// ContainsSecret reports whether Mask would change text.
func ContainsSecret(text string) bool {
	if text == "" {
		return false
	}
	if pemBlockPattern.MatchString(text) || secretAssignPattern.MatchString(text) {
		return true
	}
	for _, p := range secretValuePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// IsSensitiveKey reports whether a bare key name likely references secret
// material. Usage counters ("total_tokens", "max_tokens") are exempt.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" || strings.HasSuffix(k, "_tokens") || k == "tokens" || strings.HasPrefix(k, "max_") {
		return false
	}
	for _, fragment := range []string{"api_key", "apikey", "secret", "password", "passwd", "credential", "token", "private_key"} {
		if strings.Contains(k, fragment) {
			return true
		}
	}
	return false
}
