package tools

import (
	"fmt"
	"regexp"
	"strings"
)

// commandRule is one layer of the execute_command safety check.
type commandRule struct {
	reason string
	match  func(raw, lower string) (string, bool)
}

// containsAny matches literal patterns against the lower-cased command.
func containsAny(patterns ...string) func(raw, lower string) (string, bool) {
	return func(_, lower string) (string, bool) {
		for _, p := range patterns {
			if strings.Contains(lower, p) {
				return p, true
			}
		}
		return "", false
	}
}

// containsRaw matches literal patterns case-sensitively.
func containsRaw(patterns ...string) func(raw, lower string) (string, bool) {
	return func(raw, _ string) (string, bool) {
		for _, p := range patterns {
			if strings.Contains(raw, p) {
				return p, true
			}
		}
		return "", false
	}
}

func matchesAny(res ...*regexp.Regexp) func(raw, lower string) (string, bool) {
	return func(raw, _ string) (string, bool) {
		for _, re := range res {
			if loc := re.FindString(raw); loc != "" {
				return loc, true
			}
		}
		return "", false
	}
}

var commandRules = []commandRule{
	{
		reason: "destructive command",
		match: containsAny(
			"rm -rf /",
			"rm -rf /*",
			"rm -rf ~",
			"mkfs.",
			"dd if=/dev/",
			":(){:|:&};:",
			"> /dev/sd",
			"chmod -r 777 /",
			"shutdown",
			"reboot",
			"init 0",
			"init 6",
			"find / -delete",
			"find / -exec rm",
		),
	},
	{
		reason: "network exfiltration",
		match:  containsRaw("/dev/tcp/", "/dev/udp/"),
	},
	{
		reason: "encoded command execution",
		match: matchesAny(
			regexp.MustCompile(`base64\s+(-d|--decode)`),
			regexp.MustCompile(`xxd\s+-r.*\|\s*(bash|sh|zsh|exec)`),
			regexp.MustCompile(`printf\s+.*\\x[0-9a-fA-F].*\|\s*(bash|sh|zsh|exec)`),
			regexp.MustCompile(`python[23]?\s+-c\s+.*__(import|eval|exec)__`),
			regexp.MustCompile(`perl\s+-e\s+.*system\s*\(`),
			regexp.MustCompile(`(curl|wget)\s+.*\|\s*(bash|sh|zsh|exec)`),
		),
	},
	{
		reason: "command evasion",
		match: matchesAny(
			regexp.MustCompile(`r\\m\s`),
			regexp.MustCompile(`s\\hutdown`),
			regexp.MustCompile(`re\\boot`),
			regexp.MustCompile(`mk\\fs`),
			regexp.MustCompile(`\$'\\x[0-9a-fA-F]{2}`),
			regexp.MustCompile(`eval\s+.*\$`),
			regexp.MustCompile(`\$\(.*\brm\b.*-rf\b`),
			regexp.MustCompile("`.*(\\brm\\b.*-rf\\b)"),
		),
	},
}

// CheckCommandSafety runs a command through every rule layer.
// Returns nil if the command is allowed, or an error naming the layer that
// blocked it.
func CheckCommandSafety(command string) error {
	raw := strings.TrimSpace(command)
	lower := strings.ToLower(raw)
	for _, rule := range commandRules {
		if hit, ok := rule.match(raw, lower); ok {
			return fmt.Errorf("command blocked (%s): %q", rule.reason, hit)
		}
	}
	return nil
}
