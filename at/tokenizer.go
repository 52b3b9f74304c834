package at

import (
	"strings"
)

// Terminator reports whether an accumulated modem reply is complete.
//
// The SIMCom firmware gives no length prefix or checksum, so the literal
// substrings "OK" and "ERROR" anywhere in the buffer are the only framing.
// When both occur, the one that starts first wins. Any payload that happens
// to contain either word ends the transaction early; callers that need a
// stricter framing must replace this function rather than work around it.
func Terminator(buf string) Final {
	okAt := strings.Index(buf, OK)
	errAt := strings.Index(buf, ERROR)

	switch {
	case okAt < 0 && errAt < 0:
		return Pending
	case okAt < 0:
		return FinalError
	case errAt < 0:
		return FinalOK
	case errAt < okAt:
		return FinalError
	default:
		return FinalOK
	}
}

// Classify identifies the notification carried by line. The order of the
// checks matters: the first matching prefix wins and the others are not
// consulted, so a single line triggers at most one handler.
func Classify(line string) Kind {
	switch {
	case strings.Contains(line, UrcMqttMessage):
		return KindMqttMessage
	case strings.Contains(line, UrcNewMsg):
		return KindNewSMS
	case strings.Contains(line, UrcHttpsResult):
		return KindHttpsResult
	case strings.Contains(line, UrcHttpsClosed):
		return KindHttpsClosed
	default:
		return KindUnknown
	}
}

// Notification returns the part of a raw chunk that starts at the first
// frame-start marker, or "" when the chunk carries none.
func Notification(chunk string) string {
	i := strings.IndexByte(chunk, FrameStart)
	if i < 0 {
		return ""
	}
	return chunk[i:]
}

// Trim strips spaces, carriage returns and line feeds from both ends.
func Trim(s string) string {
	return strings.Trim(s, " \r\n")
}

// Field returns the n-th element of s split by sep, or "" and false when
// s has fewer elements.
func Field(s, sep string, n int) (string, bool) {
	parts := strings.Split(s, sep)
	if n < 0 || n >= len(parts) {
		return "", false
	}
	return parts[n], true
}

// Unquote removes the first and the last character of a quoted field.
func Unquote(s string) string {
	if len(s) < 2 {
		return ""
	}
	return s[1 : len(s)-1]
}
