package logstream

import (
	"regexp"
	"strings"
	"time"

	"github.com/cuemby/corral/pkg/types"
)

var (
	timestampPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z)\s?`)
	ansiPattern      = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

	errorPattern   = regexp.MustCompile(`(?i)\berror\b|\bfail(ed)?\b|\bexception\b|\bcritical\b|\bpanic\b`)
	warningPattern = regexp.MustCompile(`(?i)\bwarn(ing)?\b|\bdeprecated?\b`)
	buildPattern   = regexp.MustCompile(`(?i)\b(npm|pnpm|yarn|webpack|vite|tsc|compil\w*|build\w*|bundl\w*)\b`)
	progressPrefix = regexp.MustCompile(`^\[?\d+/\d+\]`)
	symbolsOnly    = regexp.MustCompile(`^[\d\s[:punct:]]+$`)
)

// parseLine splits a raw log line into its recorded-at time and
// sanitized content. Lines without a leading RFC3339 nanosecond
// timestamp use the supplied wall clock.
func parseLine(raw string, wallClock time.Time) (string, time.Time) {
	recordedAt := wallClock
	content := raw

	if m := timestampPattern.FindStringSubmatch(content); m != nil {
		if ts, err := time.Parse(time.RFC3339Nano, m[1]); err == nil {
			recordedAt = ts.UTC()
		}
		content = content[len(m[0]):]
	}

	return sanitizeContent(content), recordedAt
}

// sanitizeContent strips ANSI escapes and control characters except
// LF and TAB, then trims trailing whitespace
func sanitizeContent(content string) string {
	content = ansiPattern.ReplaceAllString(content, "")
	content = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, content)
	return strings.TrimRight(content, " \t\n")
}

// classifyLine assigns the level for one sanitized line. Rules apply
// in order and the first match wins.
func classifyLine(stream types.LogStream, content string) types.LogLevel {
	if stream == types.LogStreamStderr || errorPattern.MatchString(content) {
		return types.LogLevelError
	}
	if warningPattern.MatchString(content) {
		return types.LogLevelWarning
	}
	if buildPattern.MatchString(content) || progressPrefix.MatchString(content) {
		return types.LogLevelBuild
	}
	if symbolsOnly.MatchString(content) {
		return types.LogLevelRuntime
	}
	return types.LogLevelInfo
}
