package logstream

import (
	"regexp"
	"strings"
)

// Command detection is best-effort and advisory: stdout/stderr text is
// scanned against a fixed table of command signatures, and matches become
// synthetic "command" log entries. False negatives and positives are
// acceptable.

// commandPatterns match tool invocations at the start of a cleaned line,
// optionally behind a shell prompt.
var commandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[$>]\s*)(git\s+(?:add|commit|push|pull|fetch|checkout|switch|merge|rebase|clone|status|diff|log|stash)\b.*)`),
	regexp.MustCompile(`(?:^|[$>]\s*)(npm\s+(?:install|ci|run|test|exec|publish)\b.*)`),
	regexp.MustCompile(`(?:^|[$>]\s*)(pnpm\s+(?:install|add|run|test|exec)\b.*)`),
	regexp.MustCompile(`(?:^|[$>]\s*)(yarn\s+(?:install|add|run|test)\b.*)`),
	regexp.MustCompile(`(?:^|[$>]\s*)(go\s+(?:build|test|run|vet|mod|install|generate)\b.*)`),
	regexp.MustCompile(`(?:^|[$>]\s*)(cargo\s+(?:build|test|run|check|add|install)\b.*)`),
	regexp.MustCompile(`(?:^|[$>]\s*)(pip3?\s+(?:install|uninstall|download)\b.*)`),
	regexp.MustCompile(`(?:^|[$>]\s*)(docker\s+(?:build|run|compose|push|pull|exec)\b.*)`),
	regexp.MustCompile(`(?:^|[$>]\s*)(make\s+\S.*)`),
}

// ansiPattern strips common ANSI escape sequences before matching.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	return strings.TrimSpace(ansiPattern.ReplaceAllString(s, ""))
}

// DetectCommand returns the command found in a cleaned output line, or ""
// if none matches.
func DetectCommand(line string) string {
	for _, pattern := range commandPatterns {
		if m := pattern.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// commandDetector accumulates partial output lines and reports commands
// found in complete ones.
type commandDetector struct {
	lineBuffer strings.Builder
}

// Feed appends raw output text and returns the commands detected in the
// complete lines it contains. The trailing incomplete line stays buffered
// for the next call.
func (d *commandDetector) Feed(text string) []string {
	d.lineBuffer.WriteString(text)

	content := d.lineBuffer.String()
	lines := strings.Split(content, "\n")

	// Keep the last incomplete line in the buffer.
	d.lineBuffer.Reset()
	d.lineBuffer.WriteString(lines[len(lines)-1])
	lines = lines[:len(lines)-1]

	var commands []string
	for _, line := range lines {
		cleanLine := stripANSI(line)
		if cleanLine == "" {
			continue
		}
		if cmd := DetectCommand(cleanLine); cmd != "" {
			commands = append(commands, cmd)
		}
	}
	return commands
}
