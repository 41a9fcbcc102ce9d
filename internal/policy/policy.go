package policy

import (
	"regexp"
	"strings"
)

// Override is a per-role adjustment to the global sensitivity of a tool.
type Override int

const (
	OverrideDefault Override = iota
	OverrideRequire
	OverrideSkip
)

// Decision is the gate verdict for one tool call.
type Decision struct {
	RequiresConfirmation bool
	Blocked              bool
	Reason               string
}

var blockedArgPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:^|[/\\])(?:id_rsa|id_ed25519|\.env|auth\.json|credentials)\b`),
	regexp.MustCompile(`(?i)\.(?:pem|pfx|keystore)\b`),
	regexp.MustCompile(`(?i)secrets?[/\\]`),
}

// DecideToolCall resolves whether a tool call needs operator confirmation.
// Arguments that look like secret-material reads are blocked outright.
func DecideToolCall(toolName string, sensitive bool, rawArgs string, override Override) Decision {
	for _, re := range blockedArgPatterns {
		if re.MatchString(rawArgs) {
			return Decision{
				Blocked: true,
				Reason:  "arguments reference secret material",
			}
		}
	}

	switch override {
	case OverrideRequire:
		return Decision{RequiresConfirmation: true, Reason: "role requires confirmation for " + toolName}
	case OverrideSkip:
		return Decision{}
	}
	if sensitive {
		return Decision{RequiresConfirmation: true, Reason: toolName + " is a sensitive action"}
	}
	return Decision{}
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	tokenPattern = regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{20,}\b`)
)

// RedactPII masks emails, phone numbers, and access tokens before content is
// persisted or published to the event stream.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	next = tokenPattern.ReplaceAllString(out, "[REDACTED_TOKEN]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// SummarizeCall renders a short human line for the confirmation prompt.
func SummarizeCall(toolName, rawArgs string) string {
	args := strings.TrimSpace(rawArgs)
	if args == "" || args == "{}" {
		return toolName
	}
	if len(args) > 120 {
		args = args[:120] + "..."
	}
	return toolName + " " + args
}
