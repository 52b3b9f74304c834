package modem_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"i4.energy/across/simgw/modem"
)

func creg(stat string) string {
	return "\r\n+CREG: 0," + stat + "\r\n" + okReply
}

const (
	attached = "\r\n+CNACT: 1,\"10.64.12.3\"\r\n" + okReply
	detached = "\r\n+CNACT: 0,\"0.0.0.0\"\r\n" + okReply
)

func TestRegistrationStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("Parses the status code", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+CREG?", creg("5"))
		m, _ := newTestModem(t, tr)

		code, err := m.RegistrationStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, code)
		assert.Equal(t, 5, m.State().Registration)
	})

	t.Run("Missing prefix yields -1", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+CREG?", errorReply)
		m, _ := newTestModem(t, tr)

		code, err := m.RegistrationStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, -1, code)
	})
}

func TestEnsureRegistration(t *testing.T) {
	ctx := context.Background()

	t.Run("Returns once the home network is seen", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+CREG?", creg("0"), creg("2"), creg("1"))
		m, clock := newTestModem(t, tr)

		require.NoError(t, m.EnsureRegistration(ctx))

		assert.Equal(t, []string{"AT+CREG?", "AT+CREG?", "AT+CREG?"}, commandsAfterInit(tr))
		assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, clock.Sleeps())
		assert.Equal(t, 1, m.State().Registration)
	})

	t.Run("Roaming counts as registered", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+CREG?", creg("5"))
		m, clock := newTestModem(t, tr)

		require.NoError(t, m.EnsureRegistration(ctx))
		assert.Empty(t, clock.Sleeps())
	})

	t.Run("Only the context ends the wait", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+CREG?", creg("2"))
		m, _ := newTestModem(t, tr)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, m.EnsureRegistration(cctx), context.Canceled)
	})
}

func TestEnsureAttach(t *testing.T) {
	ctx := context.Background()

	t.Run("Polls until attached", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply(`AT+CNACT=1,"iot.example"`, okReply).
			Reply("AT+CNACT?", detached, attached)
		m, clock := newTestModem(t, tr)

		require.NoError(t, m.EnsureAttach(ctx, "iot.example"))

		assert.Equal(t, []string{`AT+CNACT=1,"iot.example"`, "AT+CNACT?", "AT+CNACT?"}, commandsAfterInit(tr))
		assert.Equal(t, 2, clock.Count(time.Second))
		state := m.State()
		assert.True(t, state.Attached)
		assert.Equal(t, "iot.example", state.APN)
	})

	t.Run("Reissues the attach after eight detached polls", func(t *testing.T) {
		replies := append(slices.Repeat([]string{detached}, 8), attached)
		tr := modem.NewTestTransport().
			Reply(`AT+CNACT=1,"internet"`, okReply).
			Reply("AT+CNACT?", replies...)
		m, clock := newTestModem(t, tr)

		require.NoError(t, m.EnsureAttach(ctx, ""))

		attach := `AT+CNACT=1,"internet"`
		want := slices.Concat(
			[]string{attach},
			slices.Repeat([]string{"AT+CNACT?"}, 8),
			[]string{attach, "AT+CNACT?"},
		)
		assert.Equal(t, want, commandsAfterInit(tr))
		assert.Equal(t, 9, clock.Count(time.Second))
	})

	t.Run("A silent poll keeps the link flag", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply(`AT+CNACT=1,"internet"`, okReply).
			Reply("AT+CNACT?", attached, "", attached)

		var (
			m    *modem.Modem
			seen []bool
		)
		clock := &hookClock{TestClock: modem.NewTestClock(), d: time.Second, hook: func() {
			if m != nil {
				seen = append(seen, m.State().Attached)
			}
		}}
		m, _ = newTestModem(t, tr, func(b *modem.ConfigBuilder) {
			b.WithClock(clock)
		})

		require.NoError(t, m.EnsureAttach(ctx, ""))
		require.NoError(t, m.EnsureAttach(ctx, ""))

		// Waits before each poll: first call, then around the timed-out poll.
		assert.Equal(t, []bool{false, true, true}, seen)
		assert.True(t, m.State().Attached)
	})
}

// hookClock runs hook before every wait of length d.
type hookClock struct {
	*modem.TestClock
	d    time.Duration
	hook func()
}

func (c *hookClock) After(d time.Duration) <-chan time.Time {
	if d == c.d {
		c.hook()
	}
	return c.TestClock.After(d)
}

func TestMqttInit(t *testing.T) {
	tr := modem.NewTestTransport().
		Reply("AT+CREG?", creg("1")).
		Reply("AT+CNACT=1", okReply).
		Reply("AT+CNACT?", attached)
	m, _ := newTestModem(t, tr)

	require.NoError(t, m.MqttInit(context.Background(), "orange"))
	assert.Equal(t, []string{"AT+CREG?", `AT+CNACT=1,"orange"`, "AT+CNACT?"}, commandsAfterInit(tr))
}

func TestConnectMqtt(t *testing.T) {
	ctx := context.Background()
	cfg := modem.MqttConfig{
		Broker:   "liveobjects.orange-business.com",
		Port:     "1883",
		ClientID: "urn:lo:nsid:microbit:1",
		Username: "json+device",
		Password: "secret",
	}
	conf := []string{
		`AT+SMCONF="URL","liveobjects.orange-business.com","1883"`,
		`AT+SMCONF="CLIENTID","urn:lo:nsid:microbit:1"`,
		`AT+SMCONF="USERNAME","json+device"`,
		`AT+SMCONF="PASSWORD","secret"`,
	}

	t.Run("Connects on the first round", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply("AT+SMCONF", okReply).
			Reply("AT+SMCONN", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.ConnectMqtt(ctx, cfg))
		assert.Equal(t, append(slices.Clone(conf), "AT+SMCONN"), commandsAfterInit(tr))
		assert.True(t, m.State().MqttConnected)
	})

	t.Run("Disconnects and retries without limit after the first round", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply("AT+SMCONF", okReply).
			Reply("AT+SMCONN", errorReply, errorReply, errorReply, errorReply, errorReply, okReply).
			Reply("AT+SMDISC", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.ConnectMqtt(ctx, cfg))

		want := slices.Concat(
			conf,
			[]string{"AT+SMCONN", "AT+SMCONN", "AT+SMCONN", "AT+SMDISC"},
			[]string{"AT+SMCONN", "AT+SMCONN", "AT+SMCONN"},
		)
		assert.Equal(t, want, commandsAfterInit(tr))
		assert.True(t, m.State().MqttConnected)
	})

	t.Run("Rejected parameters do not stop the connect", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply(`AT+SMCONF="URL"`, okReply).
			Reply(`AT+SMCONF="CLIENTID"`, okReply).
			Reply(`AT+SMCONF="USERNAME"`, errorReply).
			Reply(`AT+SMCONF="PASSWORD"`, okReply).
			Reply("AT+SMCONN", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.ConnectMqtt(ctx, cfg))
		cmds := commandsAfterInit(tr)
		assert.Equal(t, 6, count(cmds, conf[2]))
		assert.Equal(t, "AT+SMCONN", cmds[len(cmds)-1])
	})
}

func TestConnectHttp(t *testing.T) {
	ctx := context.Background()
	bearer := []string{`AT+SAPBR=3,1,"APN","internet"`, "AT+SAPBR=1,1", "AT+SAPBR=2,1"}

	t.Run("Initializes on the first try", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply("AT+SAPBR", okReply).
			Reply("AT+HTTPINIT", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.ConnectHttp(ctx, "internet"))
		assert.Equal(t, append(slices.Clone(bearer), "AT+HTTPINIT"), commandsAfterInit(tr))
	})

	t.Run("Terminates a stale session and initializes again", func(t *testing.T) {
		replies := append(slices.Repeat([]string{errorReply}, 6), okReply)
		tr := modem.NewTestTransport().
			Reply("AT+SAPBR", okReply).
			Reply("AT+HTTPINIT", replies...).
			Reply("AT+HTTPTERM", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.ConnectHttp(ctx, "internet"))

		want := slices.Concat(
			bearer,
			slices.Repeat([]string{"AT+HTTPINIT"}, 6),
			[]string{"AT+HTTPTERM", "AT+HTTPINIT"},
		)
		assert.Equal(t, want, commandsAfterInit(tr))
	})

	t.Run("ErrHttpInit when the retry fails too", func(t *testing.T) {
		tr := modem.NewTestTransport().
			Reply("AT+SAPBR", okReply).
			Reply("AT+HTTPINIT", errorReply).
			Reply("AT+HTTPTERM", okReply)
		m, _ := newTestModem(t, tr)

		err := m.ConnectHttp(ctx, "internet")
		assert.ErrorIs(t, err, modem.ErrHttpInit)
		assert.ErrorIs(t, err, modem.ErrNoAck)
		assert.Equal(t, 12, count(commandsAfterInit(tr), "AT+HTTPINIT"))
	})
}

// scriptHttps answers everything ConnectHttps needs.
func scriptHttps(tr *modem.TestTransport) *modem.TestTransport {
	return tr.
		Reply("AT+CREG?", creg("1")).
		Reply("AT+CNACT=1", okReply).
		Reply("AT+CNACT?", attached).
		Reply("AT+SHCONF", okReply).
		Reply("AT+CSSLCFG", okReply).
		Reply("AT+SHSSL", okReply).
		Reply("AT+SHDISC", okReply)
}

var httpsSetup = []string{
	"AT+CREG?",
	`AT+CNACT=1,"internet"`,
	"AT+CNACT?",
	`AT+SHCONF="HEADERLEN",350`,
	`AT+SHCONF="BODYLEN",1024`,
	`AT+CSSLCFG="convert",2,"google.cer"`,
	`AT+SHSSL=1,"google.cer"`,
	`AT+SHCONF="URL","https://script.google.com"`,
}

func TestConnectHttps(t *testing.T) {
	ctx := context.Background()

	t.Run("Opens the Apps Script host by default", func(t *testing.T) {
		tr := scriptHttps(modem.NewTestTransport()).Reply("AT+SHCONN", okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.SheetInit(ctx))
		assert.Equal(t, append(slices.Clone(httpsSetup), "AT+SHCONN"), commandsAfterInit(tr))
		assert.True(t, m.State().HttpsConnected)
	})

	t.Run("Reconnects once after a refused connect", func(t *testing.T) {
		tr := scriptHttps(modem.NewTestTransport()).Reply("AT+SHCONN", errorReply, okReply)
		m, _ := newTestModem(t, tr)

		require.NoError(t, m.SheetInit(ctx))
		assert.Equal(t, append(slices.Clone(httpsSetup), "AT+SHCONN", "AT+SHDISC", "AT+SHCONN"), commandsAfterInit(tr))
		assert.True(t, m.State().HttpsConnected)
	})

	t.Run("ErrHttpsConnect when both connects fail", func(t *testing.T) {
		tr := scriptHttps(modem.NewTestTransport()).Reply("AT+SHCONN", errorReply)
		m, _ := newTestModem(t, tr)

		assert.ErrorIs(t, m.SheetInit(ctx), modem.ErrHttpsConnect)
		assert.False(t, m.State().HttpsConnected)
	})

	t.Run("Custom endpoint with JSON header", func(t *testing.T) {
		tr := scriptHttps(modem.NewTestTransport()).
			Reply("AT+SHCONN", okReply).
			Reply("AT+SHAHEAD", okReply)
		m, _ := newTestModem(t, tr)

		err := m.ConnectHttps(ctx, modem.HttpsConfig{URL: "https://api.example.com", Cert: "ca.pem", JSON: true})
		require.NoError(t, err)

		cmds := commandsAfterInit(tr)
		assert.Contains(t, cmds, `AT+SHCONF="URL","https://api.example.com"`)
		assert.Contains(t, cmds, `AT+SHSSL=1,"ca.pem"`)
		assert.Equal(t, `AT+SHAHEAD="Content-Type","application/json"`, cmds[len(cmds)-1])
	})
}
