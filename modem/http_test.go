package modem_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"i4.energy/across/simgw/modem"
)

func TestHttpPost(t *testing.T) {
	tr := modem.NewTestTransport().
		Reply("AT+HTTPPARA", okReply).
		Reply("AT+HTTPDATA", "\r\nDOWNLOAD\r\n").
		Reply(`{"t":1}`, okReply).
		Reply("AT+HTTPACTION=1", okReply)
	m, clock := newTestModem(t, tr)

	require.NoError(t, m.HttpPost(context.Background(), "http://example.com/in", `{"t":1}`))

	assert.Equal(t, []string{
		`AT+HTTPPARA="URL","http://example.com/in"`,
		"AT+HTTPDATA=7,1000",
		`{"t":1}`,
		"AT+HTTPACTION=1",
	}, commandsAfterInit(tr))
	assert.Equal(t, 1, clock.Count(100*time.Millisecond))
}

const (
	sheetBody = `AT+SHBOD="21.5;60",7`
	sheetPost = `AT+SHREQ="macros/s/AKfy/exec",3`
)

// newSheetModem returns a modem with an open HTTPS link and the number of
// commands written so far.
func newSheetModem(t *testing.T, tr *modem.TestTransport) (*modem.Modem, int) {
	t.Helper()
	scriptHttps(tr).Reply("AT+SHCONN", okReply).Reply("AT+SHBOD", okReply)
	m, _ := newTestModem(t, tr)
	require.NoError(t, m.SheetInit(context.Background()))
	return m, len(tr.Commands())
}

func TestSheetWrite(t *testing.T) {
	ctx := context.Background()
	row := []string{"21.5", "60"}

	t.Run("Single request when the modem confirms", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+SHREQ", okReply)
		m, n := newSheetModem(t, tr)

		require.NoError(t, m.SheetWrite(ctx, "AKfy", row))
		assert.Equal(t, []string{sheetBody, sheetPost}, tr.Commands()[n:])
	})

	t.Run("Retries a request the modem reports failed", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+SHREQ",
			okReply+"\r\n+SHREQ: \"POST\",200,700\r\n",
			okReply+"\r\n+SHREQ: \"POST\",200,680\r\n",
		)
		m, n := newSheetModem(t, tr)

		require.NoError(t, m.SheetWrite(ctx, "AKfy", row))
		assert.Equal(t, []string{sheetBody, sheetPost, sheetBody, sheetPost}, tr.Commands()[n:])
		assert.False(t, m.State().RequestFailed)
	})

	t.Run("Resends once when the link dropped after OK", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+SHREQ", okReply)
		m, n := newSheetModem(t, tr)
		require.NoError(t, m.Dispatch(ctx, "+SHSTATE: 0\r\n"))

		require.NoError(t, m.SheetWrite(ctx, "AKfy", row))

		cmds := tr.Commands()[n:]
		assert.Equal(t, 2, count(cmds, sheetPost))
		assert.Equal(t, 1, count(cmds, "AT+SHCONN"))
		assert.True(t, m.State().HttpsConnected)
	})

	t.Run("Gives up after five attempts and reconnects on the third", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+SHREQ", errorReply)
		m, n := newSheetModem(t, tr)

		err := m.SheetWrite(ctx, "AKfy", row)
		assert.ErrorIs(t, err, modem.ErrSheetWriteFailed)

		cmds := tr.Commands()[n:]
		assert.Equal(t, 5, count(cmds, sheetPost))
		assert.Equal(t, 1, count(cmds, "AT+SHCONN"))

		// The reconnect happens after the third request.
		posts := 0
		for _, c := range cmds {
			if c == sheetPost {
				posts++
			}
			if c == "AT+SHCONN" {
				assert.Equal(t, 3, posts)
			}
		}
	})

	t.Run("Backoff grows with each attempt", func(t *testing.T) {
		tr := modem.NewTestTransport().Reply("AT+SHREQ", errorReply)
		scriptHttps(tr).Reply("AT+SHCONN", okReply).Reply("AT+SHBOD", okReply)
		m, clock := newTestModem(t, tr)
		require.NoError(t, m.SheetInit(ctx))

		assert.ErrorIs(t, m.SheetWrite(ctx, "AKfy", row), modem.ErrSheetWriteFailed)
		// The 1s step is shared with the attach polls and left out.
		for _, attempt := range []int{1, 3, 4, 5} {
			assert.Equal(t, 1, clock.Count(time.Duration(attempt)*500*time.Millisecond), "attempt %d", attempt)
		}
	})
}
