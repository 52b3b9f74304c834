package modem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"i4.energy/across/simgw/modem"
)

// initCommands is the number of commands the handshake writes with a
// ready SIM.
const initCommands = 6

const okReply = "\r\nOK\r\n"
const errorReply = "\r\nERROR\r\n"

// testDialer hands out a prepared transport.
type testDialer struct {
	transport modem.Transport
}

func (d testDialer) Dial(ctx context.Context) (modem.Transport, error) {
	return d.transport, nil
}

// scriptInit answers the handshake commands on tr.
func scriptInit(tr *modem.TestTransport) *modem.TestTransport {
	return tr.
		Reply("AT\r\n", okReply).
		Reply("ATE0", okReply).
		Reply("ATE1", "ATE1\r\nOK\r\n").
		Reply("AT+CMEE=2", okReply).
		Reply("AT+CPIN?", "\r\n+CPIN: READY\r\n"+okReply).
		Reply("AT+CMGF=1", okReply).
		Reply("AT+CMGD=0,4", okReply)
}

// newTestModem builds a modem over a scripted transport and a virtual clock.
// configure may adjust the builder before the modem is created.
func newTestModem(t *testing.T, tr *modem.TestTransport, configure ...func(*modem.ConfigBuilder)) (*modem.Modem, *modem.TestClock) {
	t.Helper()

	clock := modem.NewTestClock()
	b := modem.NewConfigBuilder().
		WithDialer(testDialer{transport: scriptInit(tr)}).
		WithClock(clock)
	for _, fn := range configure {
		fn(b)
	}

	config, err := b.Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, clock
}

// commandsAfterInit returns what was written after the handshake.
func commandsAfterInit(tr *modem.TestTransport) []string {
	cmds := tr.Commands()
	if len(cmds) < initCommands {
		return nil
	}
	return cmds[initCommands:]
}

func count(cmds []string, cmd string) int {
	n := 0
	for _, c := range cmds {
		if c == cmd {
			n++
		}
	}
	return n
}
