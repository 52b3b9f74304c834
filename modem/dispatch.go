package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"i4.energy/across/simgw/at"
)

// Loop watches the modem for unsolicited notifications while no transaction
// is in flight and routes them to the registered handlers.
//
// Loop runs until ctx is cancelled, the modem is closed or the transport
// fails. It must run in its own goroutine; only one Loop may run per modem.
//
// Example:
//
//	go func() {
//		if err := modem.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
//			logger.Error("modem loop stopped", "error", err)
//		}
//	}()
func (m *Modem) Loop(ctx context.Context) error {
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	for {
		chunk, err := m.poll(ctx)
		if err != nil {
			return err
		}
		if chunk != "" {
			if err := m.Dispatch(ctx, chunk); err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrAlreadyClosed) {
					return err
				}
				m.logger.Warn("Notification handling failed", "error", err)
			}
		}
		if err := m.pause(ctx, m.config.idleInterval); err != nil {
			return err
		}
	}
}

// poll performs one idle read. When the data carries a frame-start marker it
// waits for the debounce interval and then drains the input, so a
// notification longer than the read buffer arrives whole.
func (m *Modem) poll(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return "", ErrAlreadyClosed
	}

	chunk, err := m.read()
	if err != nil {
		return "", fmt.Errorf("read notifications: %w", err)
	}
	if !strings.ContainsRune(chunk, at.FrameStart) {
		return chunk, nil
	}

	if err := m.pause(ctx, m.config.debounce); err != nil {
		return "", err
	}
	var data strings.Builder
	data.WriteString(chunk)
	for range maxDiscardReads {
		rest, err := m.read()
		if err != nil {
			return "", fmt.Errorf("read notifications: %w", err)
		}
		if rest == "" {
			break
		}
		data.WriteString(rest)
	}
	return data.String(), nil
}

// Dispatch classifies a chunk of inbound data and runs the matching handler.
// Chunks without a notification and unknown notifications are ignored.
//
// Dispatch must not be called while the caller holds a transaction: the
// new SMS handler issues commands of its own.
func (m *Modem) Dispatch(ctx context.Context, chunk string) error {
	line := at.Notification(chunk)
	if line == "" {
		return nil
	}

	kind := at.Classify(line)
	m.logger.Debug("Notification received", "kind", kind.String(), "line", at.Trim(line))

	switch kind {
	case at.KindMqttMessage:
		m.handleMqttMessage(line)
	case at.KindNewSMS:
		return m.handleNewSms(ctx, line)
	case at.KindHttpsResult:
		m.handleHttpsResult(line)
	case at.KindHttpsClosed:
		m.state.setHttpsConnected(false)
		m.logger.Warn("HTTPS link closed by modem")
	}
	return nil
}

func (m *Modem) handleMqttMessage(line string) {
	for _, topic := range m.state.subscriptions() {
		if !strings.Contains(line, topic) {
			continue
		}
		message, ok := at.ParseMqttMessage(line)
		if !ok {
			m.logger.Warn("Malformed MQTT notification", "line", at.Trim(line))
			return
		}
		m.onMqtt(topic, message)
	}
}

// handleNewSms reads the announced message, hands it to the SMS handler and
// deletes it from storage afterwards. A message that could not be read stays
// in storage.
func (m *Modem) handleNewSms(ctx context.Context, line string) error {
	index, ok := at.ParseNewMessageIndex(line)
	if !ok {
		m.logger.Warn("Malformed new message notification", "line", at.Trim(line))
		return nil
	}

	res, err := m.Exec(ctx, Cmd(at.ReadSMS(index)))
	if err != nil {
		return fmt.Errorf("read SMS %s: %w", index, err)
	}
	if !res.OK() {
		m.logger.Warn("Could not read SMS, keeping it", "index", index, "status", res.Status.String())
		return nil
	}

	sms, ok := at.ParseReadMessage(res.Response)
	if !ok {
		return fmt.Errorf("read SMS %s: %w", index, ErrMalformedResponse)
	}
	m.onSms(sms.Sender, sms.Text)

	res, err = m.Exec(ctx, Cmd(at.DeleteSMS(index)))
	if err != nil {
		return fmt.Errorf("delete SMS %s: %w", index, err)
	}
	if !res.OK() {
		m.logger.Warn("Could not delete SMS", "index", index, "status", res.Status.String())
	}
	return nil
}

func (m *Modem) handleHttpsResult(line string) {
	r, ok := at.ParseHttpsResult(line)
	if !ok {
		m.logger.Warn("Malformed HTTPS result", "line", at.Trim(line))
		return
	}
	m.state.recordHttps(r.Code, r.Length, r.Failed(), r.Delivered())
	if r.Failed() {
		m.logger.Warn("HTTPS request failed", "code", r.Code, "length", r.Length)
		return
	}
	m.logger.Debug("HTTPS request completed", "code", r.Code, "length", r.Length)
}

func (m *Modem) dropSms(sender, text string) {
	m.logger.Warn("No SMS handler registered, message dropped", "sender", sender, "length", len(text))
}

func (m *Modem) dropMqtt(topic, message string) {
	m.logger.Warn("No MQTT handler registered, message dropped", "topic", topic, "length", len(message))
}
