package modem

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to a SIMCom
// modem.
//
// Reads must not block for long: a Read returns whatever bytes are buffered
// and may return 0 bytes with a nil error when nothing has arrived. The
// transaction engine and the notification dispatcher both poll the stream
// and rely on this. Typical implementations include serial ports opened with
// a short read timeout, or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port or a test double) and is intended to be used during modem
// construction only. Once a Transport is obtained, the Dialer is no longer
// needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// DefaultReadTimeout bounds a single serial Read so that polling loops keep
// their declared interval.
const DefaultReadTimeout = 10 * time.Millisecond

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	PortName string
	// BaudRate is used when Mode is nil. Zero means 115200.
	BaudRate int
	// Mode overrides BaudRate when set.
	Mode *serial.Mode
	// ReadTimeout bounds a single Read. Zero means DefaultReadTimeout.
	ReadTimeout time.Duration
}

// Dial opens the serial port and configures it for non-blocking polling.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", d.PortName, err)
	}

	readTimeout := d.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("modem: set read timeout on %s: %w", d.PortName, err)
	}

	// Drop whatever the modem printed while nobody was listening (RDY, +CFUN, ...).
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("modem: reset input buffer on %s: %w", d.PortName, err)
	}

	return port, nil
}
