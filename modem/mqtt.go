package modem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/simgw/at"
)

const (
	// publishRetries is how many times a rejected payload is sent again.
	publishRetries = 6

	publishHeaderTimeout = 100 * time.Millisecond
	publishPromptPause   = 100 * time.Millisecond
	publishBodyTimeout   = 3 * time.Second
	publishBodySettle    = time.Second
	publishRetryTimeout  = 5 * time.Second

	// LiveObjectsTopic is the Orange Live Objects data topic.
	LiveObjectsTopic = "dev/data"
)

// Publish sends payload to topic over the modem's MQTT session.
//
// When the modem rejects the payload or reports the session down, Publish
// checks packet data and the MQTT link, repairs whichever dropped and sends
// header and payload again, up to six times.
func (m *Modem) Publish(ctx context.Context, topic, payload string, qos, retain int) error {
	header := at.MqttPublish(topic, len(payload), qos, retain)

	// The modem answers the header with a prompt and no final result, so
	// the short timeout is the expected outcome.
	res, err := m.sendPublish(ctx,
		Cmd(header).WithTimeout(publishHeaderTimeout).Silent(),
		publishPromptPause,
		Cmd(payload).Raw().WithTimeout(publishBodyTimeout).Silent().WithSettle(publishBodySettle))
	if err != nil {
		return err
	}

	for attempt := 1; publishRejected(res); attempt++ {
		if attempt > publishRetries {
			return fmt.Errorf("publish on %q: %w", topic, ErrPublishFailed)
		}
		m.logger.Info("MQTT publish failed, retrying", "topic", topic, "attempt", attempt)

		if err := m.repairMqtt(ctx); err != nil {
			return err
		}

		res, err = m.sendPublish(ctx,
			Cmd(header).WithTimeout(publishHeaderTimeout),
			0,
			Cmd(payload).Raw().WithTimeout(publishRetryTimeout).Silent())
		if err != nil {
			return err
		}
	}

	m.logger.Info("MQTT message published", "topic", topic, "size", len(payload))
	return nil
}

// sendPublish writes header and payload as one prompt sequence. A refused
// header stands in for the payload reply.
func (m *Modem) sendPublish(ctx context.Context, header Command, pause time.Duration, payload Command) (Result, error) {
	headerRes, res, err := m.execPrompt(ctx, header, pause, payload)
	if err == nil && headerRes.Status == StatusProtocolError {
		return headerRes, nil
	}
	return res, err
}

func publishRejected(res Result) bool {
	return res.Contains(at.ERROR) || res.Contains(at.MqttDownShort)
}

// repairMqtt queries packet data and MQTT link state and brings back
// whichever dropped.
func (m *Modem) repairMqtt(ctx context.Context) error {
	netState, err := m.Exec(ctx, Cmd(at.CmdAttachStatus).WithTimeout(Infinite))
	if err != nil {
		return err
	}
	mqttState, err := m.Exec(ctx, Cmd(at.CmdMqttState).WithTimeout(Infinite))
	if err != nil {
		return err
	}

	if netState.Contains(at.DetachedMark) {
		m.logger.Warn("Packet data dropped, attaching again")
		m.state.setAttached(false)
		if err := m.MqttInit(ctx, ""); err != nil {
			return err
		}
		if err := m.ack(ctx, at.CmdMqttConnect); err != nil {
			if !errors.Is(err, ErrNoAck) {
				return err
			}
			m.logger.Warn("MQTT connect not accepted", "error", err)
		}
	}

	if mqttState.Contains(at.MqttDownMark) {
		m.logger.Warn("MQTT session dropped, reconnecting")
		m.state.setMqttConnected(false)
		if err := m.reconnectMqtt(ctx); err != nil {
			if !errors.Is(err, ErrNoAck) {
				return err
			}
			m.logger.Warn("MQTT reconnect not accepted", "error", err)
		}
	}
	return nil
}

// Subscribe subscribes to topic with QoS 1. Messages on topics registered
// here are passed to the MQTT handler.
func (m *Modem) Subscribe(ctx context.Context, topic string) error {
	res, err := m.Exec(ctx, Cmd(at.MqttSubscribe(topic, 1)))
	if err != nil {
		return err
	}
	if !res.OK() {
		m.logger.Warn("MQTT subscribe not confirmed", "topic", topic, "status", res.Status.String())
	}
	m.state.addTopic(topic)
	return nil
}

// PublishLiveObjects wraps values in a Live Objects data message and
// publishes it.
func (m *Modem) PublishLiveObjects(ctx context.Context, stream, timestamp string, values []string) error {
	return m.Publish(ctx, LiveObjectsTopic, at.LiveObjectsMessage(stream, timestamp, values), 1, 0)
}
