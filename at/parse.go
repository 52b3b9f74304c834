package at

import (
	"math"
	"strconv"
	"strings"
)

// RSSIUnknown is the +CSQ value the modem reports when it cannot measure.
const RSSIUnknown = 99

// ParseRSSI extracts the raw rssi (0-31) from a +CSQ reply. It returns -1
// when the reply carries no +CSQ line, the value is not a number or the
// modem reports 99.
func ParseRSSI(resp string) int {
	i := strings.Index(resp, "+CSQ:")
	if i < 0 {
		return -1
	}
	rest, ok := Field(resp[i:], ": ", 1)
	if !ok {
		return -1
	}
	raw, _ := Field(rest, ",", 0)
	rssi, err := strconv.Atoi(Trim(raw))
	if err != nil || rssi == RSSIUnknown {
		return -1
	}
	return rssi
}

// ScaleRSSI maps rssi from 0..31 linearly onto lo..hi and rounds. Negative
// rssi stays -1.
func ScaleRSSI(rssi, lo, hi int) int {
	if rssi < 0 {
		return -1
	}
	v := float64(lo) + float64(rssi)*float64(hi-lo)/31
	return int(math.Round(v))
}

// ParseSignalQuality converts a +CSQ reply into signal bars on a 1..5 scale,
// or -1 when the value cannot be read.
func ParseSignalQuality(resp string) int {
	return ScaleRSSI(ParseRSSI(resp), 1, 5)
}

// ParseRegistration extracts the <stat> field of a +CREG reply, or -1.
func ParseRegistration(resp string) int {
	i := strings.Index(resp, "+CREG:")
	if i < 0 {
		return -1
	}
	rest, ok := Field(resp[i:], ",", 1)
	if !ok {
		return -1
	}
	raw, _ := Field(rest, CRLF, 0)
	code, err := strconv.Atoi(Trim(raw))
	if err != nil {
		return -1
	}
	return code
}

// Registered reports whether a +CREG status means home (1) or roaming (5).
func Registered(code int) bool {
	return code == 1 || code == 5
}

// ParseClock returns the quoted timestamp of a +CCLK reply in the modem's
// "yy/MM/dd,hh:mm:ss±zz" format, or "" when absent.
func ParseClock(resp string) string {
	if !strings.Contains(resp, "+CCLK:") {
		return ""
	}
	v, _ := Field(resp, `"`, 1)
	return v
}

// ParsePosition returns "lat,lon" from a +CGNSINF reply with a valid fix.
func ParsePosition(resp string) (string, bool) {
	i := strings.Index(resp, GnssFixMark)
	if i < 0 {
		return "", false
	}
	parts := strings.Split(resp[i:], ",")
	if len(parts) < 5 {
		return "", false
	}
	return parts[3] + "," + parts[4], true
}

// SMS is a message read back with AT+CMGR.
type SMS struct {
	Sender string
	Text   string
}

// ParseNewMessageIndex extracts the storage index of a +CMTI notification.
func ParseNewMessageIndex(line string) (string, bool) {
	raw, ok := Field(line, ",", 1)
	if !ok {
		return "", false
	}
	idx := Trim(raw)
	if idx == "" {
		return "", false
	}
	return idx, true
}

// ParseReadMessage parses an AT+CMGR reply. The second line carries the
// header whose second comma field is the quoted sender, the third line is
// the message body.
func ParseReadMessage(resp string) (SMS, bool) {
	lines := strings.Split(resp, "\n")
	if len(lines) < 3 {
		return SMS{}, false
	}
	sender, ok := Field(lines[1], ",", 1)
	if !ok {
		return SMS{}, false
	}
	return SMS{
		Sender: Unquote(sender),
		Text:   Trim(lines[2]),
	}, true
}

// mqttFooterLen is the closing quote and CRLF after a +SMSUB payload.
const mqttFooterLen = 3

// ParseMqttMessage extracts the payload of a +SMSUB notification: the text
// after the `","` separator minus the fixed footer.
func ParseMqttMessage(line string) (string, bool) {
	raw, ok := Field(line, `","`, 1)
	if !ok {
		return "", false
	}
	if len(raw) < mqttFooterLen {
		return "", true
	}
	return raw[:len(raw)-mqttFooterLen], true
}

// HttpsResult is the content of a +SHREQ notification.
type HttpsResult struct {
	Code   string
	Length string
}

// Failed reports whether the modem signalled a failed request.
func (r HttpsResult) Failed() bool {
	return strings.Contains(r.Length, HttpsFailedLength)
}

// Delivered reports whether the modem signalled a delivered request.
func (r HttpsResult) Delivered() bool {
	return strings.Contains(r.Length, HttpsDeliveredLength)
}

// ParseHttpsResult reads the status code and content length fields.
func ParseHttpsResult(line string) (HttpsResult, bool) {
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return HttpsResult{}, false
	}
	return HttpsResult{Code: Trim(parts[1]), Length: Trim(parts[2])}, true
}
