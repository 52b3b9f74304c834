package modem

import (
	"strings"
	"time"

	"i4.energy/across/simgw/at"
)

// WriteMode selects how a command is put on the wire.
type WriteMode int

const (
	// WriteLine terminates the text with CRLF.
	WriteLine WriteMode = iota
	// WriteRaw sends the bytes as they are, for payloads following a
	// prompt (MQTT publish bodies, HTTP data).
	WriteRaw
)

// Infinite disables the response timeout: the transaction only ends on OK
// or ERROR.
const Infinite time.Duration = -1

// Unlimited removes the attempt limit of ExecWithAck.
const Unlimited = -1

// Command is a single AT transaction request. The zero Timeout means the
// modem's configured AT timeout.
type Command struct {
	Text    string
	Mode    WriteMode
	Timeout time.Duration
	// Quiet keeps the command and its reply out of the log. Some payloads
	// must not be logged while bytes are still arriving.
	Quiet bool
	// Settle is how long to wait after the terminator for trailing data.
	Settle time.Duration
}

func Cmd(text string) Command {
	return Command{Text: text}
}

func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

func (c Command) Raw() Command {
	c.Mode = WriteRaw
	return c
}

func (c Command) Silent() Command {
	c.Quiet = true
	return c
}

func (c Command) WithSettle(d time.Duration) Command {
	c.Settle = d
	return c
}

func (c Command) wire() []byte {
	if c.Mode == WriteRaw {
		return []byte(c.Text)
	}
	return []byte(c.Text + at.CRLF)
}

// Status classifies how a transaction ended.
type Status int

const (
	StatusOK Status = iota
	StatusTimeout
	StatusProtocolError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusProtocolError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one transaction. Response holds everything read,
// including partial data on timeout.
type Result struct {
	Status   Status
	Response string
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Contains reports whether the reply holds s anywhere.
func (r Result) Contains(s string) bool {
	return strings.Contains(r.Response, s)
}
