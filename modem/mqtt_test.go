package modem_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"i4.energy/across/simgw/modem"
)

const (
	mqttUp   = "\r\n+SMSTATE: 1\r\n" + okReply
	mqttDown = "\r\n+SMSTATE: 0\r\n" + okReply
)

func TestPublish(t *testing.T) {
	ctx := context.Background()
	header := `AT+SMPUB="sensors/temp",4,1,0`

	t.Run("Publishes header and payload", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply(header, "\r\n> ").
			Reply("21.5", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.Publish(ctx, "sensors/temp", "21.5", 1, 0))

		assert.Equal(t, []string{header, "21.5"}, commandsAfterInit(tr))
		assert.Equal(t, "21.5", tr.Writes()[initCommands+1], "payload goes out without line terminator")
	})

	t.Run("Retries after three rejections and checks the links before each retry", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply(header, "\r\n> ").
			Reply("21.5", errorReply, errorReply, errorReply, okReply).
			Reply("AT+CNACT?", attached).
			Reply("AT+SMSTATE?", mqttUp)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.Publish(ctx, "sensors/temp", "21.5", 1, 0))

		retry := []string{"AT+CNACT?", "AT+SMSTATE?", header, "21.5"}
		want := slices.Concat([]string{header, "21.5"}, retry, retry, retry)
		assert.Equal(t, want, commandsAfterInit(tr))
	})

	t.Run("Reconnects a dropped MQTT session before resending", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply(header, "\r\n> ").
			Reply("21.5", errorReply, okReply).
			Reply("AT+CNACT?", attached).
			Reply("AT+SMSTATE?", mqttDown).
			Reply("AT+SMDISC", okReply).
			Reply("AT+SMCONN", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.Publish(ctx, "sensors/temp", "21.5", 1, 0))

		want := []string{
			header, "21.5",
			"AT+CNACT?", "AT+SMSTATE?", "AT+SMDISC", "AT+SMCONN",
			header, "21.5",
		}
		assert.Equal(t, want, commandsAfterInit(tr))
		assert.True(t, m.State().MqttConnected)
	})

	t.Run("Reattaches when packet data dropped", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply(header, "\r\n> ").
			Reply("21.5", "\r\n+SMSTATE: 0\r\n", okReply).
			Reply("AT+CNACT?", detached, attached).
			Reply("AT+SMSTATE?", mqttUp).
			Reply("AT+CREG?", creg("1")).
			Reply("AT+CNACT=1", okReply).
			Reply("AT+SMCONN", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.Publish(ctx, "sensors/temp", "21.5", 1, 0))

		want := []string{
			header, "21.5",
			"AT+CNACT?", "AT+SMSTATE?",
			"AT+CREG?", `AT+CNACT=1,"internet"`, "AT+CNACT?", "AT+SMCONN",
			header, "21.5",
		}
		assert.Equal(t, want, commandsAfterInit(tr))
	})

	t.Run("ErrPublishFailed after six retries", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply(header, "\r\n> ").
			Reply("21.5", errorReply).
			Reply("AT+CNACT?", attached).
			Reply("AT+SMSTATE?", mqttUp)
		m, _ := newTestModem(t, tr)

		err := m.Publish(ctx, "sensors/temp", "21.5", 1, 0)
		assert.ErrorIs(t, err, modem.ErrPublishFailed)
		assert.Equal(t, 7, count(commandsAfterInit(tr), "21.5"))
	})
}

func TestSubscribe(t *testing.T) {
	tr := modem.NewTestTransport().Reply("AT+SMSUB=", okReply)
	m, _ := newTestModem(t, tr)

	require.NoError(t, m.Subscribe(context.Background(), "dev/cfg"))
	require.NoError(t, m.Subscribe(context.Background(), "dev/cmd"))

	assert.Equal(t, []string{`AT+SMSUB="dev/cfg",1`, `AT+SMSUB="dev/cmd",1`}, commandsAfterInit(tr))
	assert.Equal(t, []string{"dev/cfg", "dev/cmd"}, m.State().Topics)
}

func TestPublishLiveObjects(t *testing.T) {
	msg := `{ "s":"urn:lo:stream", "v": { "timestamp":"24/01/01,10:00:00+04","0":"1","1":"2"} }`
	tr := modem.NewTestTransport().
		Reply(`AT+SMPUB="dev/data"`, "\r\n> ").
		Reply(msg, okReply)
	m, _ := newTestModem(t, tr)

	err := m.PublishLiveObjects(context.Background(), "urn:lo:stream", "24/01/01,10:00:00+04", []string{"1", "2"})
	require.NoError(t, err)

	cmds := commandsAfterInit(tr)
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[0], `AT+SMPUB="dev/data",`)
	assert.Equal(t, msg, cmds[1])
}
