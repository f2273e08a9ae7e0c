package security

import (
	"regexp"
	"strings"
)

// tokenPatterns find credentials embedded in free text such as error
// messages returned by the Kite API.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|access[_-]?token|request[_-]?token)([=:\s]+["']?)([A-Za-z0-9_\-\.]{6,})`),
	regexp.MustCompile(`(?i)(token\s+)([A-Za-z0-9]{6,}:)?([A-Za-z0-9]{16,})`),
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks every credential found in input.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range tokenPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			parts := pattern.FindStringSubmatch(match)
			return parts[1] + parts[2] + MaskCredential(parts[3])
		})
	}
	return result
}
