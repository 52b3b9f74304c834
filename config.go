package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Modes the daemon can run in.
const (
	ModeServe   = "serve"
	ModeConsole = "console"
	ModeMCP     = "mcp"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// SimPIN is the SIM card PIN code
	SimPIN string `yaml:"sim_pin"`
	// APN used for packet data attach
	APN string `yaml:"apn"`
	// Mode selects the surface: serve, console or mcp
	Mode string `yaml:"mode"`
	// HTTPToken, when set, is required as a Bearer token by the HTTP API
	HTTPToken string `yaml:"http_token"`
	// MinSendInterval spaces outgoing SMS
	MinSendInterval time.Duration `yaml:"min_send_interval"`

	// MqttBroker is the local broker bridged to the modem, empty disables the bridge
	MqttBroker      string `yaml:"mqtt_broker"`
	MqttClientID    string `yaml:"mqtt_client_id"`
	MqttTopicPrefix string `yaml:"mqtt_topic_prefix"`
	MqttUsername    string `yaml:"mqtt_username"`
	MqttPassword    string `yaml:"mqtt_password"`
	// RatePerMin caps SMS submitted through the bridge
	RatePerMin int `yaml:"rate_per_min"`
	// MaxRetries bounds resubmission of a failed bridged SMS
	MaxRetries int `yaml:"max_retries"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	switch config.Mode {
	case ModeServe, ModeConsole, ModeMCP:
	default:
		return nil, fmt.Errorf("unknown mode %q", config.Mode)
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.APN = "internet"
		c.Mode = ModeServe
		c.MinSendInterval = 10 * time.Second
		c.MqttTopicPrefix = "simgw"
		c.RatePerMin = 30
		c.MaxRetries = 3
		return nil
	}
}

// WithFile loads configuration from a YAML file. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		setString := func(key string, dst *string) {
			if v := os.Getenv(key); v != "" {
				*dst = v
			}
		}
		setInt := func(key string, dst *int) {
			if v := os.Getenv(key); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					*dst = n
				}
			}
		}

		setString("BIND_ADDRESS", &c.BindAddress)
		setString("SERIAL_PORT", &c.SerialPort)
		setInt("BAUD_RATE", &c.BaudRate)
		setString("LOG_LEVEL", &c.LogLevel)
		setString("SIM_PIN", &c.SimPIN)
		setString("APN", &c.APN)
		setString("MODE", &c.Mode)
		setString("HTTP_TOKEN", &c.HTTPToken)
		if v := os.Getenv("MIN_SEND_INTERVAL"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				c.MinSendInterval = d
			}
		}

		setString("MQTT_BROKER", &c.MqttBroker)
		setString("MQTT_CLIENT_ID", &c.MqttClientID)
		setString("MQTT_TOPIC_PREFIX", &c.MqttTopicPrefix)
		setString("MQTT_USERNAME", &c.MqttUsername)
		setString("MQTT_PASSWORD", &c.MqttPassword)
		setInt("RATE_PER_MIN", &c.RatePerMin)
		setInt("MAX_RETRIES", &c.MaxRetries)

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "apn":
				c.APN = f.Value.String()
			case "mode":
				c.Mode = f.Value.String()
			case "http-token":
				c.HTTPToken = f.Value.String()
			case "mqtt-broker":
				c.MqttBroker = f.Value.String()
			case "mqtt-topic-prefix":
				c.MqttTopicPrefix = f.Value.String()
			}
		})
		return nil
	}
}
