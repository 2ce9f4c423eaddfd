package ami

import (
	"bufio"
	"strings"
)

// Action names used by this client
const (
	ActionLogin   = "Login"
	ActionLogoff  = "Logoff"
	ActionCommand = "Command"
)

// Header is a single "Key: Value" line of an action.
type Header struct {
	Key   string
	Value string
}

// Action is an AMI request. Headers are written in order after the Action
// line.
type Action struct {
	Name    string
	Headers []Header
}

// NewAction creates an action with the given name
func NewAction(name string) *Action {
	return &Action{Name: name}
}

// Set appends a header and returns the action for chaining.
func (a *Action) Set(key, value string) *Action {
	a.Headers = append(a.Headers, Header{Key: key, Value: value})
	return a
}

// Get returns the first header value with the given key.
func (a *Action) Get(key string) string {
	for _, h := range a.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// Encode renders the action in wire format: CRLF-terminated header lines
// followed by an empty line.
func (a *Action) Encode() []byte {
	var b strings.Builder
	b.WriteString("Action: ")
	b.WriteString(a.Name)
	b.WriteString("\r\n")
	for _, h := range a.Headers {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// validHeaderValue reports whether v can be sent without breaking the
// line-oriented framing.
func validHeaderValue(v string) bool {
	return !strings.ContainsAny(v, "\r\n")
}

// Response is the header block of a frame. Values of repeated keys (such as
// Output) are kept in order.
type Response struct {
	Banner  string
	Headers map[string][]string
}

// ParseResponse splits a raw frame into its header fields. Lines that are not
// "Key: Value" pairs are ignored; a leading "Asterisk Call Manager" line is
// recorded as the banner.
func ParseResponse(raw string) Response {
	resp := Response{Headers: make(map[string][]string)}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "Asterisk Call Manager") {
			resp.Banner = line
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		resp.Headers[key] = append(resp.Headers[key], value)
	}
	return resp
}

// Get returns the first value of a header, matched case-insensitively.
func (r Response) Get(key string) string {
	values := r.Headers[strings.ToLower(key)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Status returns the Response header value.
func (r Response) Status() string {
	return r.Get("Response")
}

// Message returns the Message header value.
func (r Response) Message() string {
	return r.Get("Message")
}

// IsError reports whether the frame carries "Response: Error".
func (r Response) IsError() bool {
	return strings.EqualFold(r.Status(), "Error")
}
