package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// Console is an interactive AT terminal on top of the modem session.
type Console struct {
	device  Device
	rl      *readline.Instance
	timeout time.Duration
}

// NewConsole sets up the line editor. The device is attached by Run, so
// the console can take over the terminal before the modem is opened.
func NewConsole() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "at> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, timeout: defaultATTimeout}, nil
}

// Stderr returns a writer that keeps log output off the prompt line.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}

// Run reads commands for device until EOF, "quit" or ctx ends.
func (c *Console) Run(ctx context.Context, device Device) {
	c.device = device

	printHelp(c.rl.Stdout())
	for {
		if ctx.Err() != nil {
			return
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return
		}
		if !c.execute(ctx, line, c.rl.Stdout()) {
			return
		}
	}
}

// execute runs one console line and reports whether to keep going.
func (c *Console) execute(ctx context.Context, line string, out io.Writer) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	switch strings.ToLower(parts[0]) {
	case "help", "?":
		printHelp(out)
	case "quit", "exit":
		return false
	case "status":
		data, _ := json.MarshalIndent(c.device.State(), "", "  ")
		fmt.Fprintln(out, string(data))
	case "csq":
		v, err := c.device.SignalQuality(ctx)
		report(out, fmt.Sprintf("signal: %d", v), err)
	case "time":
		v, err := c.device.DateTime(ctx)
		report(out, "time: "+v, err)
	case "gps":
		v, err := c.device.Position(ctx)
		report(out, "position: "+v, err)
	case "sms":
		if len(parts) < 3 {
			fmt.Fprintln(out, "usage: sms <number> <text>")
			return true
		}
		res, err := c.device.SendSMS(ctx, parts[1], strings.Join(parts[2:], " "))
		report(out, res.Status.String(), err)
	default:
		if !strings.HasPrefix(strings.ToUpper(input), "AT") {
			fmt.Fprintf(out, "unknown command %q, type help\n", parts[0])
			return true
		}
		resp, err := c.device.SendRaw(ctx, input, c.timeout)
		report(out, strings.TrimSpace(resp), err)
	}
	return true
}

func report(out io.Writer, msg string, err error) {
	if err != nil {
		fmt.Fprintln(out, "error:", err)
		return
	}
	fmt.Fprintln(out, msg)
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `Commands:
  AT...               send a raw AT command
  sms <number> <text> send an SMS
  status              session state
  csq                 signal quality (1..5, -1 unknown)
  time                network time
  gps                 wait for a GNSS fix
  help                this text
  quit                leave
`)
}
