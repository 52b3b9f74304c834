// Package at holds the SIMCom AT command vocabulary: command strings,
// response tokens, unsolicited notification prefixes and the parsers that
// turn raw modem replies into values.
package at

const (
	// Terminal Control
	CRLF  = "\r\n"
	CtrlZ = "\x1A"

	// Response Codes
	OK     = "OK"
	ERROR  = "ERROR"
	Prompt = ">"

	// URCs (Unsolicited Result Codes). The dispatcher matches them without
	// the leading '+'.
	UrcMqttMessage = "SMSUB:"
	UrcNewMsg      = "CMTI:"
	UrcHttpsResult = "SHREQ:"
	UrcHttpsClosed = "SHSTATE: 0"

	// Marker that starts every notification line.
	FrameStart = '+'
)

// Basic setup
const (
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdEchoOn        = "ATE1"
	CmdVerboseErrors = "AT+CMEE=2"
	CmdSimStatus     = "AT+CPIN?"
	CmdSetTextMode   = "AT+CMGF=1"
	CmdDeleteAllSMS  = "AT+CMGD=0,4"
)

// Status
const (
	CmdSignalQuality = "AT+CSQ"
	CmdRegistration  = "AT+CREG?"
	CmdEnableNITZ    = "AT+CLTS=1"
	CmdClock         = "AT+CCLK?"
)

// Packet data
const (
	CmdAttachStatus = "AT+CNACT?"
)

// MQTT
const (
	CmdMqttConnect    = "AT+SMCONN"
	CmdMqttDisconnect = "AT+SMDISC"
	CmdMqttState      = "AT+SMSTATE?"
)

// HTTP over the SAPBR bearer
const (
	CmdBearerOpen  = "AT+SAPBR=1,1"
	CmdBearerQuery = "AT+SAPBR=2,1"
	CmdHttpInit    = "AT+HTTPINIT"
	CmdHttpTerm    = "AT+HTTPTERM"
	CmdHttpPost    = "AT+HTTPACTION=1"
)

// HTTPS over the SH* stack
const (
	CmdHttpsConnect    = "AT+SHCONN"
	CmdHttpsDisconnect = "AT+SHDISC"
	CmdHttpsJSONHeader = `AT+SHAHEAD="Content-Type","application/json"`
)

// GNSS
const (
	CmdGnssPowerOn = "AT+CGNSPWR=1"
	CmdGnssInfo    = "AT+CGNSINF"
)

// Markers looked for inside replies.
const (
	SimReady      = "READY"
	SimPin        = "SIM PIN"
	AttachedMark  = "+CNACT: 1"
	DetachedMark  = "+CNACT: 0"
	MqttDownMark  = "+SMSTATE: 0"
	MqttDownShort = "SMSTATE: 0"
	GnssFixMark   = "+CGNSINF: 1,1"

	// SHREQ content lengths the modem reports for a failed and a
	// delivered Google Apps Script request.
	HttpsFailedLength    = "700"
	HttpsDeliveredLength = "680"
)

// Final is the outcome of scanning an accumulated reply for a terminator.
type Final int

const (
	Pending    Final = iota // neither OK nor ERROR seen yet
	FinalOK                 // OK appears first
	FinalError              // ERROR appears first
)

func (f Final) String() string {
	switch f {
	case FinalOK:
		return "OK"
	case FinalError:
		return "ERROR"
	default:
		return "pending"
	}
}

// Kind identifies an unsolicited notification.
type Kind int

const (
	KindUnknown Kind = iota
	KindMqttMessage
	KindNewSMS
	KindHttpsResult
	KindHttpsClosed
)

func (k Kind) String() string {
	switch k {
	case KindMqttMessage:
		return "mqtt-message"
	case KindNewSMS:
		return "new-sms"
	case KindHttpsResult:
		return "https-result"
	case KindHttpsClosed:
		return "https-closed"
	default:
		return "unknown"
	}
}
