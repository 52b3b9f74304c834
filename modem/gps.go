package modem

import (
	"context"
	"time"

	"i4.energy/across/simgw/at"
)

const gnssPoll = time.Second

// GpsInit powers on the GNSS engine.
func (m *Modem) GpsInit(ctx context.Context) error {
	return m.ack(ctx, at.CmdGnssPowerOn)
}

// Position blocks until the GNSS engine reports a fix and returns it as
// "lat,lon". Only ctx ends the wait.
func (m *Modem) Position(ctx context.Context) (string, error) {
	for {
		res, err := m.Exec(ctx, Cmd(at.CmdGnssInfo))
		if err != nil {
			return "", err
		}
		if pos, ok := at.ParsePosition(res.Response); ok {
			return pos, nil
		}
		if err := m.pause(ctx, gnssPoll); err != nil {
			return "", err
		}
	}
}
