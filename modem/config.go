package modem

import (
	"log/slog"
	"time"
)

// SmsHandler receives a message read back after a +CMTI notification.
type SmsHandler func(sender, text string)

// MqttHandler receives a message published on a subscribed topic.
type MqttHandler func(topic, message string)

// Config holds the settings of a Modem. Build one with NewConfigBuilder.
type Config struct {
	dialer          Dialer
	logger          *slog.Logger
	clock           Clock
	simPIN          string
	echoOn          bool
	maxRetries      int
	atTimeout       time.Duration
	initTimeout     time.Duration
	minSendInterval time.Duration
	pollInterval    time.Duration
	idleInterval    time.Duration
	debounce        time.Duration
	signalCacheTTL  time.Duration
	onSms           SmsHandler
	onMqtt          MqttHandler
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.maxRetries == 0 {
		c.maxRetries = 5
	}
	if c.atTimeout == 0 {
		c.atTimeout = time.Second
	}
	if c.initTimeout == 0 {
		c.initTimeout = 30 * time.Second
	}
	if c.pollInterval == 0 {
		c.pollInterval = 10 * time.Millisecond
	}
	if c.idleInterval == 0 {
		c.idleInterval = 100 * time.Millisecond
	}
	if c.debounce == 0 {
		c.debounce = 50 * time.Millisecond
	}
	if c.signalCacheTTL == 0 {
		c.signalCacheTTL = 3 * time.Second
	}
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithClock replaces the wall clock, mostly for tests.
func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.clock = c
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.simPIN = pin
	return b
}

// WithEcho keeps command echo enabled. Notification dispatch misreads
// echoed commands, so leave it off outside of debugging.
func (b *ConfigBuilder) WithEcho(on bool) *ConfigBuilder {
	b.config.echoOn = on
	return b
}

// WithMaxRetries sets the default retry limit of ExecWithAck.
func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.config.maxRetries = n
	return b
}

// WithATTimeout sets the response timeout of commands that do not carry
// their own.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithInitTimeout bounds the handshake performed by New.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// WithMinSendInterval spaces consecutive outgoing SMS.
func (b *ConfigBuilder) WithMinSendInterval(d time.Duration) *ConfigBuilder {
	b.config.minSendInterval = d
	return b
}

// WithPollInterval sets how long the engine waits between empty reads.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.pollInterval = d
	return b
}

// WithIdleInterval sets how often Loop looks for notifications.
func (b *ConfigBuilder) WithIdleInterval(d time.Duration) *ConfigBuilder {
	b.config.idleInterval = d
	return b
}

// WithDebounce sets how long Loop waits for the rest of a notification
// after its first byte.
func (b *ConfigBuilder) WithDebounce(d time.Duration) *ConfigBuilder {
	b.config.debounce = d
	return b
}

// WithSignalCacheTTL sets how long a signal quality sample is reused.
func (b *ConfigBuilder) WithSignalCacheTTL(d time.Duration) *ConfigBuilder {
	b.config.signalCacheTTL = d
	return b
}

// WithSmsHandler registers the receiver of incoming SMS.
func (b *ConfigBuilder) WithSmsHandler(h SmsHandler) *ConfigBuilder {
	b.config.onSms = h
	return b
}

// WithMqttHandler registers the receiver of subscribed MQTT messages.
func (b *ConfigBuilder) WithMqttHandler(h MqttHandler) *ConfigBuilder {
	b.config.onMqtt = h
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
