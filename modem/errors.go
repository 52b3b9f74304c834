package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if initialization failed or if the Dialer returned no
	// transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation attempted afterwards.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is started while another Loop is
	// still reading from the same modem.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry initialization.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrNoAck is returned by ExecWithAck when every attempt allowed by the
	// retry limit ended without OK.
	ErrNoAck = errors.New("command not acknowledged")

	// ErrPublishFailed is returned when an MQTT publish still fails after
	// the retry budget.
	ErrPublishFailed = errors.New("mqtt publish failed")

	// ErrSheetWriteFailed is returned when a Google Sheet write still fails
	// after the retry budget.
	ErrSheetWriteFailed = errors.New("sheet write failed")

	// ErrHttpInit is returned when the HTTP stack cannot be initialized even
	// after terminating a stale session.
	ErrHttpInit = errors.New("http init failed")

	// ErrHttpsConnect is returned when the HTTPS link cannot be opened even
	// after one reconnect.
	ErrHttpsConnect = errors.New("https connect failed")

	// ErrMalformedResponse is returned when a reply lacks a field that the
	// caller needs.
	ErrMalformedResponse = errors.New("malformed modem response")
)
