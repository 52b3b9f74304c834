package modem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/simgw/at"
)

const (
	// registrationPoll is the pause between two AT+CREG? queries.
	registrationPoll = 500 * time.Millisecond
	// attachPoll is the pause between two AT+CNACT? queries.
	attachPoll = time.Second
	// attachReissueAfter is the number of consecutive detached polls after
	// which the attach command is sent again. Some firmware drops it silently.
	attachReissueAfter = 8
	// mqttConnectTries is the ack limit of the first AT+SMCONN round.
	mqttConnectTries = 2
	// httpsConnectTimeout covers the TLS handshake behind AT+SHCONN.
	httpsConnectTimeout = 10 * time.Second
)

// MqttConfig holds the broker settings written with AT+SMCONF.
type MqttConfig struct {
	Broker   string
	Port     string
	ClientID string
	Username string
	Password string
}

// HttpsConfig describes the HTTPS endpoint opened with AT+SHCONN. The zero
// value targets the Google Apps Script host.
type HttpsConfig struct {
	URL       string
	Cert      string
	HeaderLen int
	BodyLen   int
	// JSON sets a JSON content type header after connecting.
	JSON bool
}

func (c HttpsConfig) withDefaults() HttpsConfig {
	if c.URL == "" {
		c.URL = "https://script.google.com"
	}
	if c.Cert == "" {
		c.Cert = "google.cer"
	}
	if c.HeaderLen == 0 {
		c.HeaderLen = 350
	}
	if c.BodyLen == 0 {
		c.BodyLen = 1024
	}
	return c
}

// RegistrationStatus queries AT+CREG? and returns the <stat> code, or -1
// when the reply carries none.
func (m *Modem) RegistrationStatus(ctx context.Context) (int, error) {
	res, err := m.Exec(ctx, Cmd(at.CmdRegistration))
	if err != nil {
		return -1, err
	}
	code := at.ParseRegistration(res.Response)
	m.state.setRegistration(code)
	return code, nil
}

// EnsureRegistration blocks until the modem is registered on its home
// network or roaming. There is no attempt limit: only ctx ends the wait.
func (m *Modem) EnsureRegistration(ctx context.Context) error {
	for {
		code, err := m.RegistrationStatus(ctx)
		if err != nil {
			return err
		}
		if at.Registered(code) {
			return nil
		}
		m.logger.Info("Waiting for network registration", "status", code)
		if err := m.pause(ctx, registrationPoll); err != nil {
			return err
		}
	}
}

// EnsureAttach activates the packet data context for apn and blocks until
// the modem reports it attached. An empty apn reuses the session APN.
func (m *Modem) EnsureAttach(ctx context.Context, apn string) error {
	if apn == "" {
		apn = m.state.currentAPN()
	} else {
		m.state.setAPN(apn)
	}
	attach := at.Attach(apn)

	if _, err := m.Exec(ctx, Cmd(attach)); err != nil {
		return err
	}

	misses := 0
	for {
		if err := m.pause(ctx, attachPoll); err != nil {
			return err
		}
		res, err := m.Exec(ctx, Cmd(at.CmdAttachStatus))
		if err != nil {
			return err
		}
		if res.Contains(at.AttachedMark) {
			m.state.setAttached(true)
			m.logger.Info("Packet data attached", "apn", apn)
			return nil
		}

		if res.Contains(at.DetachedMark) {
			m.state.setAttached(false)
		}
		misses++
		m.logger.Info("Waiting for packet data attach", "apn", apn, "polls", misses)
		if misses >= attachReissueAfter {
			m.logger.Warn("Attach not confirmed, sending it again", "apn", apn)
			if _, err := m.Exec(ctx, Cmd(attach)); err != nil {
				return err
			}
			misses = 0
		}
	}
}

// MqttInit records apn and brings up registration and packet data.
func (m *Modem) MqttInit(ctx context.Context, apn string) error {
	if apn != "" {
		m.state.setAPN(apn)
	}
	if err := m.EnsureRegistration(ctx); err != nil {
		return err
	}
	return m.EnsureAttach(ctx, apn)
}

// ConnectMqtt configures the broker and opens the MQTT session. When the
// first connect round fails the stale session is dropped and the connect is
// repeated until the modem accepts it.
func (m *Modem) ConnectMqtt(ctx context.Context, cfg MqttConfig) error {
	conf := []string{
		at.MqttURL(cfg.Broker, cfg.Port),
		at.MqttConf("CLIENTID", cfg.ClientID),
		at.MqttConf("USERNAME", cfg.Username),
		at.MqttConf("PASSWORD", cfg.Password),
	}
	for _, cmd := range conf {
		if err := m.ack(ctx, cmd); err != nil {
			if !errors.Is(err, ErrNoAck) {
				return err
			}
			m.logger.Warn("MQTT parameter not accepted", "error", err)
		}
	}

	m.logger.Info("Establishing MQTT connection", "broker", cfg.Broker, "port", cfg.Port)
	err := m.ExecWithAck(ctx, at.CmdMqttConnect, mqttConnectTries)
	if errors.Is(err, ErrNoAck) {
		m.logger.Info("MQTT connection failed, retrying")
		if _, err := m.Exec(ctx, Cmd(at.CmdMqttDisconnect)); err != nil {
			return err
		}
		err = m.ExecWithAck(ctx, at.CmdMqttConnect, Unlimited)
	}
	if err != nil {
		return err
	}

	m.state.setMqttConnected(true)
	m.logger.Info("MQTT connection established")
	return nil
}

// reconnectMqtt drops and reopens the MQTT session with the stored broker
// settings.
func (m *Modem) reconnectMqtt(ctx context.Context) error {
	if _, err := m.Exec(ctx, Cmd(at.CmdMqttDisconnect)); err != nil {
		return err
	}
	if err := m.ack(ctx, at.CmdMqttConnect); err != nil {
		return err
	}
	m.state.setMqttConnected(true)
	return nil
}

// ConnectHttp configures and opens the SAPBR bearer for apn and initializes
// the HTTP stack. A failed init is retried once after terminating a session
// left over from an earlier run.
func (m *Modem) ConnectHttp(ctx context.Context, apn string) error {
	if apn == "" {
		apn = m.state.currentAPN()
	} else {
		m.state.setAPN(apn)
	}

	bearer := []string{
		at.BearerAPN(apn),
		at.CmdBearerOpen,
		at.CmdBearerQuery,
	}
	for _, cmd := range bearer {
		if err := m.ack(ctx, cmd); err != nil {
			if !errors.Is(err, ErrNoAck) {
				return err
			}
			m.logger.Warn("Bearer command not accepted", "error", err)
		}
	}

	err := m.ack(ctx, at.CmdHttpInit)
	if errors.Is(err, ErrNoAck) {
		m.logger.Info("HTTP init failed, terminating stale session")
		if err := m.ack(ctx, at.CmdHttpTerm); err != nil && !errors.Is(err, ErrNoAck) {
			return err
		}
		err = m.ack(ctx, at.CmdHttpInit)
	}
	if errors.Is(err, ErrNoAck) {
		return fmt.Errorf("%w: %w", ErrHttpInit, err)
	}
	return err
}

// ConnectHttps opens the TLS link used by SheetWrite. It waits for
// registration and packet data first.
func (m *Modem) ConnectHttps(ctx context.Context, cfg HttpsConfig) error {
	cfg = cfg.withDefaults()
	m.state.setHttpsConfig(cfg)

	if err := m.EnsureRegistration(ctx); err != nil {
		return err
	}
	if err := m.EnsureAttach(ctx, ""); err != nil {
		return err
	}

	m.logger.Info("Opening HTTPS connection", "url", cfg.URL)
	setup := []string{
		at.HttpsConf("HEADERLEN", cfg.HeaderLen),
		at.HttpsConf("BODYLEN", cfg.BodyLen),
		at.ConvertCert(cfg.Cert),
		at.HttpsSSL(cfg.Cert),
		at.HttpsConf("URL", cfg.URL),
	}
	for _, cmd := range setup {
		res, err := m.Exec(ctx, Cmd(cmd))
		if err != nil {
			return err
		}
		if !res.OK() {
			m.logger.Warn("HTTPS setup command failed", "command", cmd, "status", res.Status.String())
		}
	}

	connect := Cmd(at.CmdHttpsConnect).WithTimeout(httpsConnectTimeout)
	res, err := m.Exec(ctx, connect)
	if err != nil {
		return err
	}
	if !res.OK() {
		m.logger.Info("HTTPS connect failed, reconnecting", "status", res.Status.String())
		if _, err := m.Exec(ctx, Cmd(at.CmdHttpsDisconnect)); err != nil {
			return err
		}
		if res, err = m.Exec(ctx, connect); err != nil {
			return err
		}
		if !res.OK() {
			m.state.setHttpsConnected(false)
			return fmt.Errorf("%w: %s", ErrHttpsConnect, res.Status)
		}
	}

	if cfg.JSON {
		if err := m.expectOK(ctx, at.CmdHttpsJSONHeader); err != nil {
			m.logger.Warn("Could not set JSON content type", "error", err)
		}
	}

	m.state.setHttpsConnected(true)
	m.logger.Info("HTTPS connection established", "url", cfg.URL)
	return nil
}

// SheetInit opens the HTTPS link to the Google Apps Script host.
func (m *Modem) SheetInit(ctx context.Context) error {
	return m.ConnectHttps(ctx, HttpsConfig{})
}
