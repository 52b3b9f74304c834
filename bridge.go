package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// BridgeConfig describes the local broker the gateway is bridged to.
type BridgeConfig struct {
	Broker     string
	ClientID   string
	Username   string
	Password   string
	Prefix     string
	RatePerMin int
	MaxRetries int
}

// SendTopic is where SMS requests arrive.
func (c BridgeConfig) SendTopic() string { return c.Prefix + "/sms/send" }

// EventTopic is where events of the given type are published.
func (c BridgeConfig) EventTopic(eventType string) string { return c.Prefix + "/events/" + eventType }

// Rate is a sliding one minute window limiter. A zero cap allows everything.
type Rate struct {
	mu  sync.Mutex
	cap int
	win []time.Time
	now func() time.Time
}

func NewRate(nPerMin int) *Rate { return &Rate{cap: nPerMin, now: time.Now} }

// Allow records a send and reports whether it fits the window.
func (r *Rate) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cut := now.Add(-time.Minute)
	kept := r.win[:0]
	for _, t := range r.win {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.win = kept
	if r.cap > 0 && len(r.win) >= r.cap {
		return false
	}
	r.win = append(r.win, now)
	return true
}

type job struct {
	req      SmsRequest
	attempts int
}

// Bridge connects the modem to a local MQTT broker: SMS requests come in on
// SendTopic and received events go out on EventTopic.
type Bridge struct {
	cfg    BridgeConfig
	device Device
	logger *slog.Logger
	limit  *Rate
	queue  chan job
	client mqtt.Client

	// backoff returns the pause before retrying a failed attempt.
	backoff func(attempt int) time.Duration
}

func NewBridge(cfg BridgeConfig, device Device, logger *slog.Logger) *Bridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "simgw-" + uuid.NewString()[:8]
	}
	return &Bridge{
		cfg:    cfg,
		device: device,
		logger: logger,
		limit:  NewRate(cfg.RatePerMin),
		queue:  make(chan job, 1024),
		backoff: func(int) time.Duration {
			return time.Duration(800+rand.IntN(600)) * time.Millisecond
		},
	}
}

// Start connects to the broker and runs the send worker until ctx ends.
func (b *Bridge) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.logger.Warn("Bridge connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.logger.Info("Bridge connected", "broker", b.cfg.Broker, "topic", b.cfg.SendTopic())
		token := c.Subscribe(b.cfg.SendTopic(), 0, func(_ mqtt.Client, m mqtt.Message) {
			b.handleSend(m.Payload())
		})
		if token.Wait() && token.Error() != nil {
			b.logger.Error("Bridge subscribe failed", "topic", b.cfg.SendTopic(), "error", token.Error())
		}
	})

	b.client = mqtt.NewClient(opts)
	if t := b.client.Connect(); t.Wait() && t.Error() != nil {
		return t.Error()
	}

	go b.worker(ctx)
	go func() {
		<-ctx.Done()
		b.client.Disconnect(500)
	}()
	return nil
}

// handleSend validates a request payload and queues it.
func (b *Bridge) handleSend(payload []byte) {
	var req SmsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logger.Warn("Bridge payload is not JSON", "error", err)
		return
	}
	if req.To == "" || req.Message == "" {
		b.logger.Warn("Bridge payload lacks to/message")
		return
	}
	b.Enqueue(req)
}

// Enqueue assigns an id when missing and queues the request.
func (b *Bridge) Enqueue(req SmsRequest) string {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	b.queue <- job{req: req}
	return req.ID
}

func (b *Bridge) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-b.queue:
			b.process(ctx, j)
		}
	}
}

func (b *Bridge) process(ctx context.Context, j job) {
	if !b.limit.Allow() {
		b.retryLater(ctx, j, 2*time.Second)
		return
	}

	res, err := b.device.SendSMS(ctx, j.req.To, j.req.Message)
	if err == nil && !res.OK() {
		err = errors.New("modem refused message: " + res.Status.String())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if j.attempts < b.cfg.MaxRetries {
			back := b.backoff(j.attempts)
			b.logger.Warn("Bridged SMS failed, retrying", "id", j.req.ID, "error", err, "backoff", back)
			b.retryLater(ctx, j, back)
			return
		}
		b.logger.Error("Bridged SMS failed permanently", "id", j.req.ID, "to", j.req.To, "error", err)
		return
	}
	b.logger.Info("Bridged SMS sent", "id", j.req.ID, "to", j.req.To)
}

func (b *Bridge) retryLater(ctx context.Context, j job, d time.Duration) {
	j.attempts++
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(d):
			b.queue <- j
		}
	}()
}

// Forward publishes ev to the broker when connected.
func (b *Bridge) Forward(ev Event) {
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("Failed to encode event", "error", err)
		return
	}
	b.client.Publish(b.cfg.EventTopic(ev.Type), 0, false, data)
}
