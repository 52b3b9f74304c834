package at

import (
	"fmt"
	"strings"
)

func ReadSMS(index string) string {
	return "AT+CMGR=" + index
}

func DeleteSMS(index string) string {
	return "AT+CMGD=" + index + ",1"
}

func SendSMS(number string) string {
	return fmt.Sprintf(`AT+CMGS="%s"`, number)
}

func EnterPIN(pin string) string {
	return fmt.Sprintf(`AT+CPIN="%s"`, pin)
}

func Attach(apn string) string {
	return fmt.Sprintf(`AT+CNACT=1,"%s"`, apn)
}

func MqttURL(broker, port string) string {
	return fmt.Sprintf(`AT+SMCONF="URL","%s","%s"`, broker, port)
}

func MqttConf(key, value string) string {
	return fmt.Sprintf(`AT+SMCONF="%s","%s"`, key, value)
}

// MqttPublish is the header announcing a payload of size bytes.
func MqttPublish(topic string, size, qos, retain int) string {
	return fmt.Sprintf(`AT+SMPUB="%s",%d,%d,%d`, topic, size, qos, retain)
}

func MqttSubscribe(topic string, qos int) string {
	return fmt.Sprintf(`AT+SMSUB="%s",%d`, topic, qos)
}

func BearerAPN(apn string) string {
	return fmt.Sprintf(`AT+SAPBR=3,1,"APN","%s"`, apn)
}

func HttpURL(url string) string {
	return fmt.Sprintf(`AT+HTTPPARA="URL","%s"`, url)
}

// HttpData announces a body of size bytes to be sent within waitMs.
func HttpData(size, waitMs int) string {
	return fmt.Sprintf("AT+HTTPDATA=%d,%d", size, waitMs)
}

func HttpsConf(key string, value any) string {
	if s, ok := value.(string); ok {
		return fmt.Sprintf(`AT+SHCONF="%s","%s"`, key, s)
	}
	return fmt.Sprintf(`AT+SHCONF="%s",%v`, key, value)
}

func ConvertCert(name string) string {
	return fmt.Sprintf(`AT+CSSLCFG="convert",2,"%s"`, name)
}

func HttpsSSL(cert string) string {
	return fmt.Sprintf(`AT+SHSSL=1,"%s"`, cert)
}

func HttpsBody(body string) string {
	return fmt.Sprintf(`AT+SHBOD="%s",%d`, body, len(body))
}

// HttpsRequest issues a POST (type 3) to path on the connected host.
func HttpsRequest(path string) string {
	return fmt.Sprintf(`AT+SHREQ="%s",3`, path)
}

// SheetPath is the Apps Script endpoint of a deployed script.
func SheetPath(scriptID string) string {
	return "macros/s/" + scriptID + "/exec"
}

// SheetRow joins cell values the way the Apps Script endpoint splits them.
func SheetRow(values []string) string {
	return strings.Join(values, ";")
}

// LiveObjectsMessage builds the Orange Live Objects "dev/data" envelope.
// Values are indexed by position.
func LiveObjectsMessage(stream, timestamp string, values []string) string {
	var b strings.Builder
	for i, v := range values {
		fmt.Fprintf(&b, `,"%d":"%s"`, i, v)
	}
	return fmt.Sprintf(`{ "s":"%s", "v": { "timestamp":"%s"%s} }`, stream, timestamp, b.String())
}
