package query

import (
	"regexp"
	"strings"
)

var assignPrefix = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\s*=\s*([^=].*)$`)

// Clean reduces a raw model response to its expression text.
//
// It strips Markdown code fences (with or without a language tag), inline
// backticks around a line, interactive prompts (">>> "), a trailing
// semicolon or comment, a leading "name = " assignment and a print(...)
// wrapper. Blank and comment-only lines are dropped. Every other line is
// kept, so a reply that is not a single expression still has more than one
// line and is rejected by Evaluate.
func Clean(raw string) string {
	return strings.Join(cleanLines(raw), "\n")
}

// cleanLines returns the non-empty cleaned lines of raw. Only the first
// fenced block is considered when the reply has one.
func cleanLines(raw string) []string {
	s := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	if i := strings.Index(s, "```"); i >= 0 {
		body := s[i+3:]
		// drop the language tag on the fence line
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			tag := strings.TrimSpace(body[:nl])
			if tag == "" || !strings.ContainsAny(tag, " ()[]|=.\"'") {
				body = body[nl+1:]
			}
		}
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
		s = body
	}

	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = cleanLine(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	for _, p := range []string{">>> ", ">>>", "... "} {
		line = strings.TrimPrefix(line, p)
	}
	line = strings.TrimSpace(line)
	if len(line) >= 2 && strings.HasPrefix(line, "`") && strings.HasSuffix(line, "`") {
		line = strings.Trim(line, "`")
	}
	line = stripComment(line)
	line = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(line), ";"))
	if m := assignPrefix.FindStringSubmatch(line); m != nil {
		line = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(line, "print(") && strings.HasSuffix(line, ")") {
		line = strings.TrimSpace(line[len("print(") : len(line)-1])
	}
	return line
}

// stripComment removes a trailing "# ..." that is not inside a string.
func stripComment(line string) string {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '#':
			if i == 0 {
				return ""
			}
			return line[:i]
		}
	}
	return line
}
