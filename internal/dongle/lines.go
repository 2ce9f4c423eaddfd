package dongle

import (
	"bufio"
	"fmt"
	"strings"
)

// Markers in console command responses
const (
	outputFollowsMarker = "Command output follows"
	legacyFollowsMarker = "Response: Follows"
	endCommandMarker    = "--END COMMAND--"
	outputPrefix        = "Output:"
)

// ParseWarning describes an input line that could not be used. Warnings are
// collected and returned alongside the result; they never abort a parse.
type ParseWarning struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

func (w ParseWarning) String() string {
	if w.Line == 0 {
		return w.Reason
	}
	return fmt.Sprintf("line %d: %s: %q", w.Line, w.Reason, w.Text)
}

type phase int

const (
	phaseBefore phase = iota
	phaseIn
	phaseAfter
)

type outcome int

const (
	outcomeSkip outcome = iota
	outcomeContent
	outcomeWarn
	outcomeEnd
)

// classified is the result of feeding one line to the output scanner.
type classified struct {
	outcome outcome
	text    string
	reason  string
}

// outputScanner tracks where a line sits relative to the command output
// block. Every rule about markers, prefixes, headers and separators lives in
// classify.
type outputScanner struct {
	phase  phase
	framed bool
	legacy bool
	seen   bool
}

func newOutputScanner(raw string) *outputScanner {
	s := &outputScanner{framed: isFramed(raw)}
	if !s.framed {
		// Plain console text: everything is output.
		s.phase = phaseIn
	}
	return s
}

// isFramed reports whether raw carries AMI response headers at all.
func isFramed(raw string) bool {
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "Response:") {
			return true
		}
	}
	return false
}

// classify decides what one line means in the current phase.
func (s *outputScanner) classify(line string) classified {
	line = strings.TrimSpace(line)

	switch s.phase {
	case phaseBefore:
		switch {
		case strings.Contains(line, outputFollowsMarker):
			s.phase = phaseIn
		case strings.EqualFold(line, legacyFollowsMarker):
			s.phase = phaseIn
			s.legacy = true
		}
		return classified{outcome: outcomeSkip}

	case phaseIn:
		if line == "" && !s.framed && !s.seen {
			return classified{outcome: outcomeSkip}
		}
		if line == "" || line == endCommandMarker {
			s.phase = phaseAfter
			return classified{outcome: outcomeEnd}
		}

		var content string
		switch {
		case strings.HasPrefix(line, outputPrefix):
			content = strings.TrimSpace(line[len(outputPrefix):])
		case !s.framed:
			content = line
		case s.legacy && !isProtocolHeader(line):
			content = line
		default:
			return classified{outcome: outcomeSkip}
		}

		switch {
		case content == "":
			return classified{outcome: outcomeSkip}
		case content == endCommandMarker:
			s.phase = phaseAfter
			return classified{outcome: outcomeEnd}
		case isSeparator(content), isTableHeader(content):
			return classified{outcome: outcomeSkip}
		}
		s.seen = true
		return classified{outcome: outcomeContent, text: content}
	}

	return classified{outcome: outcomeEnd}
}

// walkOutput feeds raw through the scanner and calls decode for each content
// line. decode may turn a content line into a warning by returning a
// non-empty reason.
func walkOutput(raw string, decode func(text string) (reason string)) []ParseWarning {
	var warnings []ParseWarning
	scanner := newOutputScanner(raw)

	lines := bufio.NewScanner(strings.NewReader(raw))
	lines.Buffer(make([]byte, 0, 4096), 1<<20)
	num := 0
	for lines.Scan() {
		num++
		c := scanner.classify(lines.Text())
		if c.outcome == outcomeContent {
			if reason := decode(c.text); reason != "" {
				c = classified{outcome: outcomeWarn, text: c.text, reason: reason}
			}
		}

		switch c.outcome {
		case outcomeWarn:
			warnings = append(warnings, ParseWarning{Line: num, Text: c.text, Reason: c.reason})
		case outcomeEnd:
			return warnings
		}
	}
	if err := lines.Err(); err != nil {
		warnings = append(warnings, ParseWarning{Line: num + 1, Reason: err.Error()})
	}
	if scanner.phase == phaseBefore && strings.TrimSpace(raw) != "" {
		warnings = append(warnings, ParseWarning{Reason: "no command output in response"})
	}
	return warnings
}

// CommandOutput returns the content lines of a console command response with
// the output prefix removed. Table headers and separators are dropped.
func CommandOutput(raw string) []string {
	var out []string
	walkOutput(raw, func(text string) string {
		out = append(out, text)
		return ""
	})
	return out
}

func isSeparator(s string) bool {
	return strings.HasPrefix(s, "---") || strings.HasPrefix(s, "===")
}

func isTableHeader(s string) bool {
	return strings.HasPrefix(s, "ID") && strings.Contains(s, "Group")
}

// isProtocolHeader matches the AMI headers that precede output in legacy
// "Response: Follows" replies.
func isProtocolHeader(line string) bool {
	key, _, ok := strings.Cut(line, ":")
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "privilege", "actionid", "message", "response":
		return true
	}
	return false
}
