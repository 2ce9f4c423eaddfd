package dongle

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Console commands
const (
	CmdCoreShowVersion = "core show version"
	CmdShowDevices     = "dongle show devices"
)

// ErrInvalidArgument is returned by the command builders for arguments that
// would change the meaning of the console line.
var ErrInvalidArgument = errors.New("dongle: invalid argument")

var (
	idPattern     = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	numberPattern = regexp.MustCompile(`^\+?[0-9*#]+$`)
	ussdPattern   = regexp.MustCompile(`^[0-9*#+]+$`)
)

// ShowDeviceState builds "dongle show device state <id>".
func ShowDeviceState(dongleID string) (string, error) {
	if err := checkID(dongleID); err != nil {
		return "", err
	}
	return "dongle show device state " + dongleID, nil
}

// SendSMS builds "dongle sms <id> <number> <text>" with the text quoted.
func SendSMS(dongleID, number, text string) (string, error) {
	if err := checkID(dongleID); err != nil {
		return "", err
	}
	if !numberPattern.MatchString(number) {
		return "", fmt.Errorf("%w: number %q", ErrInvalidArgument, number)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty message", ErrInvalidArgument)
	}
	if strings.ContainsAny(text, "\r\n") {
		return "", fmt.Errorf("%w: message contains line breaks", ErrInvalidArgument)
	}
	return fmt.Sprintf("dongle sms %s %s %s", dongleID, number, quoteArg(text)), nil
}

// SendUSSD builds "dongle ussd <id> <code>".
func SendUSSD(dongleID, code string) (string, error) {
	if err := checkID(dongleID); err != nil {
		return "", err
	}
	if !ussdPattern.MatchString(code) {
		return "", fmt.Errorf("%w: ussd code %q", ErrInvalidArgument, code)
	}
	return fmt.Sprintf("dongle ussd %s %s", dongleID, code), nil
}

// IsErrorResponse reports whether raw is an AMI error reply.
func IsErrorResponse(raw string) bool {
	return strings.Contains(raw, "Response: Error")
}

// ParseVersion returns the "Asterisk x.y.z ..." line of a "core show
// version" response, or "" if there is none.
func ParseVersion(raw string) string {
	for _, line := range CommandOutput(raw) {
		if strings.HasPrefix(line, "Asterisk ") {
			return line
		}
	}
	return ""
}

func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: dongle id %q", ErrInvalidArgument, id)
	}
	return nil
}

// quoteArg quotes s for the Asterisk CLI argument splitter, which honours
// double quotes and backslash escapes.
func quoteArg(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
