package safety

import (
	"regexp"
	"strings"
)

// Built-in dangerous command signatures. These are checked against the
// lowercased command line and block regardless of allow/deny configuration.
var dangerousPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;\s*:`)},
	{"pipe to shell", regexp.MustCompile(`(curl|wget)[^|;]*\|\s*(ba|z|da)?sh`)},
	{"world-writable chmod", regexp.MustCompile(`chmod\s+(-[a-z]+\s+)*0?777`)},
	{"raw block device write", regexp.MustCompile(`(dd\s+[^;|]*of=/dev/(sd|hd|nvme|xvd)|>\s*/dev/(sd|hd|nvme|xvd))`)},
	{"recursive root removal", regexp.MustCompile(`rm\s+(-[a-z]+\s+)*(-[a-z]*[rf][a-z]*\s+)*/(\s|$)`)},
	{"filesystem format", regexp.MustCompile(`mkfs(\.[a-z0-9]+)?\s`)},
}

// Sensitive system paths referenced on a command line. Access to these is
// suspicious even for read-shaped commands.
var sensitiveCommandPaths = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/etc/sudoers",
	`c:\windows\system32`,
}

func matchDangerousCommand(normalized string) string {
	for _, p := range dangerousPatterns {
		if p.re.MatchString(normalized) {
			return p.name
		}
	}
	for _, path := range sensitiveCommandPaths {
		if strings.Contains(normalized, path) {
			return "sensitive system path " + path
		}
	}
	return ""
}

// System directory prefixes a task must never write into.
var suspiciousWritePrefixes = []string{
	"/etc",
	"/boot",
	"/sys",
	"/proc",
	"/usr/bin",
	"/usr/sbin",
	"/bin",
	"/sbin",
	`c:\windows`,
}

func isSuspiciousSystemPath(normalized string) bool {
	lower := strings.ToLower(normalized)
	for _, prefix := range suspiciousWritePrefixes {
		if lower == prefix || strings.HasPrefix(lower, prefix+"/") || strings.HasPrefix(lower, prefix+`\`) {
			return true
		}
	}
	return false
}
