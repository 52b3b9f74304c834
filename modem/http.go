package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"i4.energy/across/simgw/at"
)

const (
	httpDataWindow = 1000 // ms the modem waits for the body
	httpDataPause  = 100 * time.Millisecond
	httpBodyTime   = time.Second

	sheetAttempts    = 5
	sheetBackoff     = 500 * time.Millisecond
	sheetReinitOn    = 3
	sheetVerifyPause = time.Second
)

// HttpPost posts data to url over the SAPBR bearer opened by ConnectHttp.
func (m *Modem) HttpPost(ctx context.Context, url, data string) error {
	if err := m.ack(ctx, at.HttpURL(url)); err != nil {
		return fmt.Errorf("set URL: %w", err)
	}

	// Answered with DOWNLOAD and no final result.
	if _, _, err := m.execPrompt(ctx,
		Cmd(at.HttpData(len(data), httpDataWindow)),
		httpDataPause,
		Cmd(data).Raw().WithTimeout(httpBodyTime)); err != nil {
		return err
	}

	if err := m.ack(ctx, at.CmdHttpPost); err != nil {
		return fmt.Errorf("post to %s: %w", url, err)
	}
	return nil
}

// SheetWrite appends values as one row through the Apps Script scriptID.
//
// The modem sometimes answers OK while the link is already gone and the row
// is lost, so every accepted request is followed by a link check and, when
// the link dropped, a reconnect and one more send. The third attempt always
// reconnects first.
func (m *Modem) SheetWrite(ctx context.Context, scriptID string, values []string) error {
	m.state.setRequestFailed(false)

	body := at.HttpsBody(at.SheetRow(values))
	post := at.HttpsRequest(at.SheetPath(scriptID))

	send := func() (Result, error) {
		if _, err := m.Exec(ctx, Cmd(body)); err != nil {
			return Result{}, err
		}
		res, err := m.Exec(ctx, Cmd(post))
		if err != nil {
			return res, err
		}
		m.observeHttps(res.Response)
		return res, nil
	}

	for attempt := 1; attempt <= sheetAttempts; attempt++ {
		res, err := send()
		if err != nil {
			return err
		}
		if err := m.pause(ctx, time.Duration(attempt)*sheetBackoff); err != nil {
			return err
		}

		if attempt == sheetReinitOn {
			if err := m.reconnectHttps(ctx); err != nil {
				return err
			}
		}

		if res.Contains(at.OK) || at.Trim(res.Response) == "" {
			if err := m.pause(ctx, sheetVerifyPause); err != nil {
				return err
			}
			if !m.state.httpsUp() {
				m.logger.Warn("HTTPS link dropped after write, reconnecting")
				if err := m.reconnectHttps(ctx); err != nil {
					return err
				}
				if res, err = send(); err != nil {
					return err
				}
				m.logger.Info("Sheet write resent")
				if err := m.pause(ctx, sheetVerifyPause); err != nil {
					return err
				}
			}
		}

		if !res.Contains(at.ERROR) && !m.state.failed() {
			return nil
		}
		m.logger.Info("Sheet write failed", "attempt", attempt, "status", res.Status.String())
	}

	return fmt.Errorf("write to script %s: %w", scriptID, ErrSheetWriteFailed)
}

// reconnectHttps reopens the last HTTPS link. A refused connect is logged
// and left to the next attempt.
func (m *Modem) reconnectHttps(ctx context.Context) error {
	err := m.ConnectHttps(ctx, m.state.httpsConfig())
	if errors.Is(err, ErrHttpsConnect) {
		m.logger.Warn("HTTPS reconnect failed", "error", err)
		return nil
	}
	return err
}

// observeHttps handles a +SHREQ result that arrived inside a reply.
func (m *Modem) observeHttps(resp string) {
	i := strings.Index(resp, string(at.FrameStart)+at.UrcHttpsResult)
	if i < 0 {
		return
	}
	line := resp[i:]
	if j := strings.Index(line, at.CRLF); j >= 0 {
		line = line[:j]
	}
	m.handleHttpsResult(line)
}
