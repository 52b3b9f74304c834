package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"
	"i4.energy/across/simgw/modem"
)

type stubDevice struct{ mock.Mock }

func (d *stubDevice) SendSMS(ctx context.Context, to, msg string) (modem.Result, error) {
	ret := d.Called(to, msg)
	return ret.Get(0).(modem.Result), ret.Error(1)
}
func (d *stubDevice) SendRaw(ctx context.Context, text string, timeout time.Duration) (string, error) {
	ret := d.Called(text, timeout)
	return ret.String(0), ret.Error(1)
}
func (d *stubDevice) State() modem.Snapshot { return d.Called().Get(0).(modem.Snapshot) }
func (d *stubDevice) SignalQuality(ctx context.Context) (int, error) {
	ret := d.Called()
	return ret.Int(0), ret.Error(1)
}
func (d *stubDevice) RegistrationStatus(ctx context.Context) (int, error) {
	ret := d.Called()
	return ret.Int(0), ret.Error(1)
}
func (d *stubDevice) DateTime(ctx context.Context) (string, error) {
	ret := d.Called()
	return ret.String(0), ret.Error(1)
}
func (d *stubDevice) MqttInit(ctx context.Context, apn string) error { return d.Called(apn).Error(0) }
func (d *stubDevice) ConnectMqtt(ctx context.Context, cfg modem.MqttConfig) error {
	return d.Called(cfg).Error(0)
}
func (d *stubDevice) Publish(ctx context.Context, topic, payload string, qos, retain int) error {
	return d.Called(topic, payload, qos, retain).Error(0)
}
func (d *stubDevice) Subscribe(ctx context.Context, topic string) error {
	return d.Called(topic).Error(0)
}
func (d *stubDevice) ConnectHttp(ctx context.Context, apn string) error { return d.Called(apn).Error(0) }
func (d *stubDevice) HttpPost(ctx context.Context, url, data string) error {
	return d.Called(url, data).Error(0)
}
func (d *stubDevice) SheetInit(ctx context.Context) error { return d.Called().Error(0) }
func (d *stubDevice) SheetWrite(ctx context.Context, scriptID string, values []string) error {
	return d.Called(scriptID, values).Error(0)
}
func (d *stubDevice) GpsInit(ctx context.Context) error { return d.Called().Error(0) }
func (d *stubDevice) Position(ctx context.Context) (string, error) {
	ret := d.Called()
	return ret.String(0), ret.Error(1)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	sent    = modem.Result{Status: modem.StatusOK, Response: "\r\n+CMGS: 7\r\n\r\nOK\r\n"}
	refused = modem.Result{Status: modem.StatusProtocolError, Response: "\r\n+CMS ERROR: 500\r\n"}
)
