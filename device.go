package main

import (
	"context"
	"time"

	"i4.energy/across/simgw/modem"
)

// Device is the part of the modem the daemon surfaces drive.
type Device interface {
	SendSMS(ctx context.Context, recipient, message string) (modem.Result, error)
	SendRaw(ctx context.Context, text string, timeout time.Duration) (string, error)
	State() modem.Snapshot
	SignalQuality(ctx context.Context) (int, error)
	RegistrationStatus(ctx context.Context) (int, error)
	DateTime(ctx context.Context) (string, error)

	MqttInit(ctx context.Context, apn string) error
	ConnectMqtt(ctx context.Context, cfg modem.MqttConfig) error
	Publish(ctx context.Context, topic, payload string, qos, retain int) error
	Subscribe(ctx context.Context, topic string) error

	ConnectHttp(ctx context.Context, apn string) error
	HttpPost(ctx context.Context, url, data string) error
	SheetInit(ctx context.Context) error
	SheetWrite(ctx context.Context, scriptID string, values []string) error

	GpsInit(ctx context.Context) error
	Position(ctx context.Context) (string, error)
}

var _ Device = (*modem.Modem)(nil)
