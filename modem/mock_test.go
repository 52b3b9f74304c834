package modem_test

import (
	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/simgw/modem"
)

// MockSequenceBuilder scripts whole AT transactions on a MockTransport. Each
// step expects the stale-input read, the command write and the reply read.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Exchange expects cmd to be written and answers it with resp.
func (b *MockSequenceBuilder) Exchange(cmd, resp string) *MockSequenceBuilder {
	wire := []byte(cmd + "\r\n")
	b.calls = append(b.calls,
		b.transport.EXPECT().Read(gomock.Any()).Return(0, nil),
		b.transport.EXPECT().Write(wire).Return(len(wire), nil),
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Exchange("AT", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Exchange("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) VerboseErrors() *MockSequenceBuilder {
	return b.Exchange("AT+CMEE=2", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Exchange("AT+CPIN?", "\r\n+CPIN: SIM PIN\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Exchange("AT+CPIN?", "\r\n+CPIN: READY\r\n\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SMSTextMode() *MockSequenceBuilder {
	return b.Exchange("AT+CMGF=1", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) PurgeStorage() *MockSequenceBuilder {
	return b.Exchange("AT+CMGD=0,4", "\r\nOK\r\n")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// initMockCalls is the complete handshake of a modem with a ready SIM.
func initMockCalls(transport *modem.MockTransport) []any {
	return NewMockSequence(transport).
		AT().
		EchoOff().
		VerboseErrors().
		SimReady().
		SMSTextMode().
		PurgeStorage().
		Build()
}
