// Package safety evaluates tool side effects against the configured policy.
// Violations are values returned to the caller, never panics or task-level
// errors: a rejected command becomes a failed step the planner can react to.
package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ViolationKind classifies why the policy rejected an operation.
type ViolationKind string

const (
	KindDisallowedCommand   ViolationKind = "disallowed_command"
	KindDeniedCommand       ViolationKind = "denied_command"
	KindProtectedFile       ViolationKind = "protected_file"
	KindProtectedPattern    ViolationKind = "protected_pattern"
	KindSuspiciousOperation ViolationKind = "suspicious_operation"
)

// Violation is a rejection reason from the policy engine.
type Violation struct {
	Kind       ViolationKind `json:"kind"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion,omitempty"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Message)
}

// FileMode distinguishes read from write access in file checks.
type FileMode string

const (
	ModeRead  FileMode = "read"
	ModeWrite FileMode = "write"
)

// Config holds the policy configuration. It is read-only after load.
type Config struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// AllowedCommands is an executable-name allowlist. Empty means
	// unrestricted at the allowlist layer.
	AllowedCommands []string `yaml:"allowed_commands" mapstructure:"allowed_commands"`

	// DeniedCommands are substrings matched case-insensitively against the
	// whole command line.
	DeniedCommands []string `yaml:"denied_commands" mapstructure:"denied_commands"`

	// ProtectedFiles are absolute paths or directory prefixes that must not
	// be touched.
	ProtectedFiles []string `yaml:"protected_files" mapstructure:"protected_files"`

	// ProtectedPatterns are globs (supporting * and ?) matched against the
	// basename and the full path.
	ProtectedPatterns []string `yaml:"protected_patterns" mapstructure:"protected_patterns"`
}

// PolicyStats counts policy decisions. Thread-safe.
type PolicyStats struct {
	mu         sync.Mutex
	total      int64
	violations map[ViolationKind]int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	TotalChecks   int64                   `json:"total_checks"`
	Violations    map[ViolationKind]int64 `json:"violations"`
	ViolationRate float64                 `json:"violation_rate"`
}

func (s *PolicyStats) record(v *Violation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if v != nil {
		if s.violations == nil {
			s.violations = make(map[ViolationKind]int64)
		}
		s.violations[v.Kind]++
	}
}

// Snapshot returns a copy of the current counters.
func (s *PolicyStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := StatsSnapshot{TotalChecks: s.total, Violations: make(map[ViolationKind]int64, len(s.violations))}
	var violationTotal int64
	for k, v := range s.violations {
		out.Violations[k] = v
		violationTotal += v
	}
	if s.total > 0 {
		out.ViolationRate = float64(violationTotal) / float64(s.total)
	}
	return out
}

// Policy is the tool-safety policy engine.
type Policy struct {
	config Config
	stats  PolicyStats
}

// NewPolicy creates a policy from the given configuration.
func NewPolicy(config Config) *Policy {
	// Denylist matching is case-insensitive; normalize once at load.
	lowered := make([]string, len(config.DeniedCommands))
	for i, d := range config.DeniedCommands {
		lowered[i] = strings.ToLower(d)
	}
	config.DeniedCommands = lowered
	return &Policy{config: config}
}

// CheckCommand evaluates a command line. It returns nil when the command is
// allowed, or the first matching Violation. Decision order: disabled,
// denylist, dangerous built-ins, allowlist.
func (p *Policy) CheckCommand(cmdline string) *Violation {
	v := p.checkCommand(cmdline)
	p.stats.record(v)
	return v
}

func (p *Policy) checkCommand(cmdline string) *Violation {
	if !p.config.Enabled {
		return nil
	}

	normalized := strings.ToLower(strings.TrimSpace(cmdline))
	if normalized == "" {
		return nil
	}

	for _, denied := range p.config.DeniedCommands {
		if denied != "" && strings.Contains(normalized, denied) {
			return &Violation{
				Kind:       KindDeniedCommand,
				Message:    fmt.Sprintf("command matches denylist entry %q", denied),
				Suggestion: "remove the denied fragment or use a safer alternative",
			}
		}
	}

	if pattern := matchDangerousCommand(normalized); pattern != "" {
		return &Violation{
			Kind:       KindSuspiciousOperation,
			Message:    fmt.Sprintf("command matches dangerous pattern: %s", pattern),
			Suggestion: "this operation is blocked unconditionally",
		}
	}

	if len(p.config.AllowedCommands) > 0 {
		executable := extractExecutable(normalized)
		if !contains(p.config.AllowedCommands, executable) {
			return &Violation{
				Kind:       KindDisallowedCommand,
				Message:    fmt.Sprintf("executable %q is not in the allowlist", executable),
				Suggestion: fmt.Sprintf("allowed executables: %s", strings.Join(p.config.AllowedCommands, ", ")),
			}
		}
	}

	return nil
}

// CheckFileAccess evaluates a file access. Decision order: disabled,
// suspicious system paths on write, protected files/prefixes, protected
// patterns.
func (p *Policy) CheckFileAccess(path string, mode FileMode) *Violation {
	v := p.checkFileAccess(path, mode)
	p.stats.record(v)
	return v
}

func (p *Policy) checkFileAccess(path string, mode FileMode) *Violation {
	if !p.config.Enabled {
		return nil
	}

	normalized := normalizePath(path)

	if mode == ModeWrite && isSuspiciousSystemPath(normalized) {
		return &Violation{
			Kind:       KindSuspiciousOperation,
			Message:    fmt.Sprintf("write to system path %q", normalized),
			Suggestion: "write inside the task workspace instead",
		}
	}

	for _, protected := range p.config.ProtectedFiles {
		prot := normalizePath(protected)
		if normalized == prot || isUnder(normalized, prot) {
			return &Violation{
				Kind:       KindProtectedFile,
				Message:    fmt.Sprintf("path %q is protected by %q", normalized, protected),
				Suggestion: "choose a path outside the protected set",
			}
		}
	}

	base := filepath.Base(normalized)
	for _, pattern := range p.config.ProtectedPatterns {
		if globMatch(pattern, base) || globMatch(pattern, normalized) {
			return &Violation{
				Kind:       KindProtectedPattern,
				Message:    fmt.Sprintf("path %q matches protected pattern %q", normalized, pattern),
				Suggestion: "choose a path not covered by the protected patterns",
			}
		}
	}

	return nil
}

// IsCommandAllowed is a boolean convenience over CheckCommand.
func (p *Policy) IsCommandAllowed(cmdline string) bool {
	return p.CheckCommand(cmdline) == nil
}

// IsFileWritable is a boolean convenience over CheckFileAccess.
func (p *Policy) IsFileWritable(path string) bool {
	return p.CheckFileAccess(path, ModeWrite) == nil
}

// Stats returns a snapshot of policy decision counters.
func (p *Policy) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// extractExecutable returns the first token of the first pipeline segment.
func extractExecutable(cmdline string) string {
	parts := strings.FieldsFunc(cmdline, func(r rune) bool {
		return r == '|' || r == ';' || r == '&' || r == '>' || r == '<'
	})
	if len(parts) == 0 {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

func isUnder(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}

// globMatch supports * and ? (filepath.Match semantics), case-insensitive.
func globMatch(pattern, name string) bool {
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}

func contains(list []string, item string) bool {
	for _, l := range list {
		if l == item {
			return true
		}
	}
	return false
}
