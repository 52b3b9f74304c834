package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"i4.energy/across/simgw/modem"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.String("apn", "internet", "APN for packet data attach")
	flag.String("mode", ModeServe, "Run mode (serve, console, mcp)")
	flag.String("http-token", "", "Bearer token required by the HTTP API")
	flag.String("mqtt-broker", "", "Local MQTT broker to bridge to, e.g. tcp://localhost:1883")
	flag.String("mqtt-topic-prefix", "simgw", "Topic prefix of the MQTT bridge")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var (
		console *Console
		logOut  io.Writer = os.Stderr
	)
	if config.Mode == ModeConsole {
		console, err = NewConsole()
		if err != nil {
			slog.Error("Failed to start console", "error", err)
			os.Exit(1)
		}
		defer console.Close()
		logOut = console.Stderr()
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := NewHub(logger.With("component", "events"))
	var bridge *Bridge
	notify := func(ev Event) {
		hub.Publish(ev)
		if bridge != nil {
			bridge.Forward(ev)
		}
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(5 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithMaxRetries(5).
		WithMinSendInterval(config.MinSendInterval).
		WithSimPIN(config.SimPIN).
		WithLogger(logger.With("component", "modem")).
		WithSmsHandler(func(sender, text string) {
			logger.Info("SMS received", "from", sender, "length", len(text))
			notify(NewSmsEvent(sender, text))
		}).
		WithMqttHandler(func(topic, message string) {
			logger.Info("MQTT message received", "topic", topic, "length", len(message))
			notify(NewMqttEvent(topic, message))
		}).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}
	}()

	if config.MqttBroker != "" {
		bridge = NewBridge(BridgeConfig{
			Broker:     config.MqttBroker,
			ClientID:   config.MqttClientID,
			Username:   config.MqttUsername,
			Password:   config.MqttPassword,
			Prefix:     config.MqttTopicPrefix,
			RatePerMin: config.RatePerMin,
			MaxRetries: config.MaxRetries,
		}, m, logger.With("component", "bridge"))
	}

	go func() {
		if err := m.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, modem.ErrAlreadyClosed) {
			logger.Error("Notification loop stopped", "error", err)
			cancel()
		}
	}()

	logger.Info("Starting SIM gateway", "mode", config.Mode, "port", config.SerialPort, "version", version)

	switch config.Mode {
	case ModeConsole:
		console.Run(ctx, m)
	case ModeMCP:
		s := NewMCPServer(&Tools{Device: m, Logger: logger.With("component", "mcp")}, version)
		if err := server.ServeStdio(s); err != nil {
			logger.Error("MCP server failed", "error", err)
		}
	default:
		serve(ctx, config, m, hub, bridge, logger)
	}
}

func serve(ctx context.Context, config *Config, m *modem.Modem, hub *Hub, bridge *Bridge, logger *slog.Logger) {
	if bridge != nil {
		if err := bridge.Start(ctx); err != nil {
			logger.Error("Failed to start MQTT bridge", "error", err, "broker", config.MqttBroker)
		}
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger: logger.With("component", "server"),
			Modem:  m,
			Events: hub,
			Token:  config.HTTPToken,
			APN:    config.APN,
		},
	}

	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}
}
