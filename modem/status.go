package modem

import (
	"context"

	"i4.energy/across/simgw/at"
)

// SignalQuality returns the signal level on a 1..5 scale, or -1 when the
// modem cannot measure it. Samples younger than the cache interval are
// served without asking the modem.
func (m *Modem) SignalQuality(ctx context.Context) (int, error) {
	now := m.clock.Now()
	if v, ok := m.state.cachedSignal(now, m.config.signalCacheTTL); ok {
		return v, nil
	}

	res, err := m.Exec(ctx, Cmd(at.CmdSignalQuality))
	if err != nil {
		return -1, err
	}
	v := at.ParseSignalQuality(res.Response)
	m.state.recordSignal(v, now)
	return v, nil
}

// DateTime returns the network time as "yy/MM/dd,hh:mm:ss±zz", or "" when
// the modem has none.
func (m *Modem) DateTime(ctx context.Context) (string, error) {
	if _, err := m.Exec(ctx, Cmd(at.CmdEnableNITZ)); err != nil {
		return "", err
	}
	res, err := m.Exec(ctx, Cmd(at.CmdClock))
	if err != nil {
		return "", err
	}
	return at.ParseClock(res.Response), nil
}
