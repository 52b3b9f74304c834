package modem

import (
	"context"
	"time"

	"i4.energy/across/simgw/at"
)

// smsSubmitTimeout covers the network round trip of AT+CMGS.
const smsSubmitTimeout = 10 * time.Second

// SendSMS sends a text message to the specified recipient.
//
// The message is sent in text mode (not PDU mode). The recipient should be
// in international format (e.g., "+1234567890"). There is a single attempt:
// the caller gets the result of the submission as the modem reported it.
// When the modem refuses the recipient, the body is not sent and that
// result is returned instead.
//
// Consecutive messages are spaced by the configured minimum send interval.
func (m *Modem) SendSMS(ctx context.Context, recipient, message string) (Result, error) {
	if interval := m.config.minSendInterval; interval > 0 {
		wait := m.state.reserveSmsSlot(m.clock.Now(), interval)
		if err := m.pause(ctx, wait); err != nil {
			return Result{}, err
		}
	}

	if _, err := m.Exec(ctx, Cmd(at.CmdSetTextMode)); err != nil {
		return Result{}, err
	}

	// The prompt carries no final result, so the header ends on the timeout.
	// Recipient, prompt and body form one transaction.
	header, res, err := m.execPrompt(ctx, Cmd(at.SendSMS(recipient)), 0,
		Cmd(message+at.CtrlZ).Raw().WithTimeout(smsSubmitTimeout))
	if header.Status == StatusProtocolError {
		m.logger.Warn("Recipient refused", "recipient", recipient, "response", header.Response)
		return header, err
	}
	if err != nil {
		return res, err
	}
	if !header.Contains(at.Prompt) {
		m.logger.Debug("No SMS prompt seen, body sent anyway", "response", header.Response)
	}

	if res.OK() {
		m.logger.Info("Sent SMS message", "recipient", recipient)
	} else {
		m.logger.Warn("SMS not confirmed", "recipient", recipient, "status", res.Status.String())
	}
	return res, nil
}
