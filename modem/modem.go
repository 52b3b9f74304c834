package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/simgw/at"
)

const (
	simReadyPoll    = 500 * time.Millisecond
	simReadyRetries = 60
)

// maxDiscardReads bounds the reads of one drain, both for stale input before
// a command and for a notification, so a modem that never stops talking
// cannot stall the engine.
const maxDiscardReads = 64

// Modem represents a SIMCom SIM7000-class cellular modem driven over AT
// commands. It owns the transport, the session state and the handlers for
// unsolicited notifications.
//
// The protocol is half-duplex: exactly one transaction is in flight at any
// time. Exec serializes callers, and Loop reads notifications only between
// transactions.
type Modem struct {
	// transport provides the physical connection to the modem
	transport Transport
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger
	clock  Clock

	// mu spans exactly one transaction, or one idle read of Loop
	mu sync.Mutex
	// buf is the read buffer, only touched under mu
	buf []byte

	// closed indicates if the modem has been shut down
	closed atomic.Bool
	// loopRunning indicates if the Loop is currently running
	loopRunning atomic.Bool

	state  *session
	onSms  SmsHandler
	onMqtt MqttHandler
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and runs the setup handshake:
// wake-up, echo, verbose errors, SIM check, SMS text mode and a purge of
// stored messages.
//
// Returns an error if the transport connection or modem initialization
// fails.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	m := &Modem{
		transport: transport,
		config:    config,
		logger:    config.logger,
		clock:     config.clock,
		buf:       make([]byte, 512),
		state:     newSession(),
		onSms:     config.onSms,
		onMqtt:    config.onMqtt,
	}
	if m.onSms == nil {
		m.onSms = m.dropSms
	}
	if m.onMqtt == nil {
		m.onMqtt = m.dropMqtt
	}

	initCtx := ctx
	if config.initTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.initTimeout)
		defer cancel()
	}

	if err := m.init(initCtx); err != nil {
		if transport != nil {
			transport.Close()
		}
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	m.logger.Info("Modem initialized")
	return m, nil
}

// Close shuts down the modem and releases the transport. A running Loop
// and any transaction in progress fail on their next read. After Close the
// modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// State returns a copy of the session state.
func (m *Modem) State() Snapshot {
	return m.state.snapshot()
}

// init performs the initial setup sequence for the modem hardware.
func (m *Modem) init(ctx context.Context) error {
	// 1. Wake-up. The modem may still be booting or auto-bauding, so keep
	// knocking until it answers.
	for {
		res, err := m.Exec(ctx, Cmd(at.CmdAt))
		if err != nil {
			return fmt.Errorf("modem not responding: %w", err)
		}
		if res.Contains(at.OK) {
			break
		}
		m.logger.Info("Trying to communicate with modem")
	}

	echo := at.CmdEchoOff
	if m.config.echoOn {
		echo = at.CmdEchoOn
	}
	if err := m.expectOK(ctx, echo); err != nil {
		return fmt.Errorf("could not set echo: %w", err)
	}

	if err := m.expectOK(ctx, at.CmdVerboseErrors); err != nil {
		return fmt.Errorf("could not enable verbose errors: %w", err)
	}

	// 4. Check SIM status
	simStatus, err := m.Exec(ctx, Cmd(at.CmdSimStatus))
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch {
	case simStatus.Contains(at.SimReady):
		// OK

	case simStatus.Contains(at.SimPin):
		if m.config.simPIN == "" {
			return ErrSIMPinRequired
		}
		if err := m.expectOK(ctx, at.EnterPIN(m.config.simPIN)); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}

		// Wait until SIM becomes ready
		if err := m.waitForSIMReady(ctx); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported SIM state: %q", simStatus.Response)
	}

	// 5. Select SMS text mode
	if err := m.expectOK(ctx, at.CmdSetTextMode); err != nil {
		return fmt.Errorf("set SMS text mode: %w", err)
	}

	// 6. Start from empty message storage so +CMTI indexes stay small
	if err := m.expectOK(ctx, at.CmdDeleteAllSMS); err != nil {
		return fmt.Errorf("purge SMS storage: %w", err)
	}

	return nil
}

// Exec runs one AT transaction: it drops stale input, writes the command and
// collects the reply until OK, ERROR or the command's timeout.
//
// The returned error only reports transport failures, a closed modem or a
// cancelled ctx. Protocol outcomes, including timeouts, are carried by the
// Result.
func (m *Modem) Exec(ctx context.Context, cmd Command) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exec(ctx, cmd)
}

// exec is Exec without locking. Callers must hold mu.
func (m *Modem) exec(ctx context.Context, cmd Command) (Result, error) {
	if m.closed.Load() {
		return Result{}, ErrAlreadyClosed
	}
	if m.transport == nil {
		return Result{}, ErrNotInitialized
	}

	if err := m.discard(); err != nil {
		return Result{}, err
	}

	if _, err := m.transport.Write(cmd.wire()); err != nil {
		return Result{}, fmt.Errorf("write command %q: %w", cmd.Text, err)
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = m.config.atTimeout
	}

	var buf strings.Builder
	res := Result{Status: StatusTimeout}
	start := m.clock.Now()

	for {
		chunk, err := m.read()
		buf.WriteString(chunk)
		if err != nil {
			res.Response = buf.String()
			return res, fmt.Errorf("read response to %q: %w", cmd.Text, err)
		}

		if final := at.Terminator(buf.String()); final != at.Pending {
			res.Status = StatusOK
			if final == at.FinalError {
				res.Status = StatusProtocolError
			}
			break
		}

		if timeout != Infinite && m.clock.Now().Sub(start) > timeout {
			break
		}

		if chunk == "" {
			if err := m.pause(ctx, m.config.pollInterval); err != nil {
				res.Response = buf.String()
				return res, err
			}
		}
	}

	// Some replies keep streaming after the terminator.
	if res.Status != StatusTimeout && cmd.Settle > 0 {
		if err := m.pause(ctx, cmd.Settle); err != nil {
			res.Response = buf.String()
			return res, err
		}
		chunk, err := m.read()
		buf.WriteString(chunk)
		if err != nil {
			res.Response = buf.String()
			return res, fmt.Errorf("read trailing data of %q: %w", cmd.Text, err)
		}
	}

	res.Response = buf.String()
	if !cmd.Quiet {
		m.logger.Debug("AT transaction",
			"command", cmd.Text,
			"status", res.Status.String(),
			"response", res.Response,
		)
	}
	return res, nil
}

// execPrompt runs a command the modem answers with a data prompt, waits
// pause and sends body, all as one transaction. Loop cannot read or issue
// commands while the modem waits for the body bytes. When the modem refuses
// header the body is not sent and bodyRes is the zero Result.
func (m *Modem) execPrompt(ctx context.Context, header Command, pause time.Duration, body Command) (headerRes, bodyRes Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	headerRes, err = m.exec(ctx, header)
	if err != nil || headerRes.Status == StatusProtocolError {
		return headerRes, Result{}, err
	}
	if err := m.pause(ctx, pause); err != nil {
		return headerRes, Result{}, err
	}
	bodyRes, err = m.exec(ctx, body)
	return headerRes, bodyRes, err
}

// ExecWithAck repeats text with no response timeout until the reply holds
// OK. It makes at most limit+1 attempts (Unlimited removes the bound) and
// pauses 100ms times the attempt number between them.
func (m *Modem) ExecWithAck(ctx context.Context, text string, limit int) error {
	for attempt := 1; ; attempt++ {
		res, err := m.Exec(ctx, Cmd(text).WithTimeout(Infinite))
		if err != nil {
			return err
		}
		if res.Contains(at.OK) {
			return nil
		}
		if limit >= 0 && attempt > limit {
			return fmt.Errorf("%s after %d attempts: %w", text, attempt, ErrNoAck)
		}
		m.logger.Debug("Command not acknowledged, retrying", "command", text, "attempt", attempt)
		if err := m.pause(ctx, time.Duration(attempt)*100*time.Millisecond); err != nil {
			return err
		}
	}
}

// ack is ExecWithAck with the configured retry limit.
func (m *Modem) ack(ctx context.Context, text string) error {
	return m.ExecWithAck(ctx, text, m.config.maxRetries)
}

// SendRaw sends text as a command line and returns whatever the modem
// answered within timeout.
func (m *Modem) SendRaw(ctx context.Context, text string, timeout time.Duration) (string, error) {
	res, err := m.Exec(ctx, Cmd(text).WithTimeout(timeout))
	return res.Response, err
}

// expectOK executes a command and validates that the reply ends with OK.
func (m *Modem) expectOK(ctx context.Context, text string) error {
	res, err := m.Exec(ctx, Cmd(text))
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("unexpected response to %s: %q", text, res.Response)
	}
	return nil
}

// read performs a single transport read. Callers must hold mu.
func (m *Modem) read() (string, error) {
	n, err := m.transport.Read(m.buf)
	if n < 0 {
		n = 0
	}
	return string(m.buf[:n]), err
}

// discard drops whatever is waiting in the inbound buffer. Callers must
// hold mu.
func (m *Modem) discard() error {
	for range maxDiscardReads {
		chunk, err := m.read()
		if err != nil {
			return fmt.Errorf("discard stale input: %w", err)
		}
		if chunk == "" {
			return nil
		}
		m.logger.Debug("Discarded stale input", "data", chunk)
	}
	return nil
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational.
func (m *Modem) waitForSIMReady(ctx context.Context) error {
	for retries := 1; retries <= simReadyRetries; retries++ {
		if err := m.pause(ctx, simReadyPoll); err != nil {
			return fmt.Errorf("SIM not ready: %w", err)
		}
		res, err := m.Exec(ctx, Cmd(at.CmdSimStatus))
		if err != nil {
			// Fail fast on critical errors
			if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) {
				return fmt.Errorf("SIM status check failed: %w", err)
			}
			continue
		}
		if res.Contains(at.SimReady) {
			return nil
		}
	}
	return fmt.Errorf("SIM not ready after %d retries", simReadyRetries)
}
