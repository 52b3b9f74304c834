package modem

import (
	"slices"
	"sync"
	"time"
)

// session is the mutable state shared by the lifecycle controller and the
// notification dispatcher. Link flags only change on evidence read from the
// modem.
type session struct {
	mu sync.RWMutex

	registration   int
	attached       bool
	mqttConnected  bool
	httpsConnected bool
	requestFailed  bool
	lastHttps      string
	lastHttpsLen   string
	apn            string
	signal         int
	signalAt       time.Time
	signalValid    bool
	topics         []string
	lastSmsSent    time.Time
	httpsConf      HttpsConfig
}

// Snapshot is a copy of the session state at one instant.
type Snapshot struct {
	Registration   int       `json:"registration"`
	Attached       bool      `json:"attached"`
	MqttConnected  bool      `json:"mqtt_connected"`
	HttpsConnected bool      `json:"https_connected"`
	RequestFailed  bool      `json:"request_failed"`
	LastHttpsCode  string    `json:"last_https_code,omitempty"`
	LastHttpsLen   string    `json:"last_https_length,omitempty"`
	APN            string    `json:"apn"`
	Signal         int       `json:"signal"`
	SignalAt       time.Time `json:"signal_at"`
	Topics         []string  `json:"topics"`
}

func newSession() *session {
	return &session{registration: -1, signal: -1, apn: "internet"}
}

func (s *session) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Registration:   s.registration,
		Attached:       s.attached,
		MqttConnected:  s.mqttConnected,
		HttpsConnected: s.httpsConnected,
		RequestFailed:  s.requestFailed,
		LastHttpsCode:  s.lastHttps,
		LastHttpsLen:   s.lastHttpsLen,
		APN:            s.apn,
		Signal:         s.signal,
		SignalAt:       s.signalAt,
		Topics:         slices.Clone(s.topics),
	}
}

func (s *session) setRegistration(code int) {
	s.mu.Lock()
	s.registration = code
	s.mu.Unlock()
}

func (s *session) setAttached(v bool) {
	s.mu.Lock()
	s.attached = v
	s.mu.Unlock()
}

func (s *session) setMqttConnected(v bool) {
	s.mu.Lock()
	s.mqttConnected = v
	s.mu.Unlock()
}

func (s *session) setHttpsConnected(v bool) {
	s.mu.Lock()
	s.httpsConnected = v
	s.mu.Unlock()
}

func (s *session) httpsUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpsConnected
}

func (s *session) setRequestFailed(v bool) {
	s.mu.Lock()
	s.requestFailed = v
	s.mu.Unlock()
}

func (s *session) failed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestFailed
}

func (s *session) recordHttps(code, length string, failed, delivered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHttps = code
	s.lastHttpsLen = length
	switch {
	case failed:
		s.requestFailed = true
	case delivered:
		s.requestFailed = false
	}
}

func (s *session) setAPN(apn string) {
	s.mu.Lock()
	s.apn = apn
	s.mu.Unlock()
}

func (s *session) currentAPN() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apn
}

func (s *session) setHttpsConfig(c HttpsConfig) {
	s.mu.Lock()
	s.httpsConf = c
	s.mu.Unlock()
}

func (s *session) httpsConfig() HttpsConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpsConf
}

// cachedSignal returns the last sample when it is younger than ttl.
func (s *session) cachedSignal(now time.Time, ttl time.Duration) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.signalValid || now.Sub(s.signalAt) > ttl {
		return 0, false
	}
	return s.signal, true
}

func (s *session) recordSignal(v int, at time.Time) {
	s.mu.Lock()
	s.signal = v
	s.signalAt = at
	s.signalValid = true
	s.mu.Unlock()
}

func (s *session) addTopic(topic string) {
	s.mu.Lock()
	s.topics = append(s.topics, topic)
	s.mu.Unlock()
}

func (s *session) subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.topics)
}

// reserveSmsSlot returns how long to wait before the next SMS may go out
// and books that slot.
func (s *session) reserveSmsSlot(now time.Time, interval time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := time.Duration(0)
	if !s.lastSmsSent.IsZero() {
		if next := s.lastSmsSent.Add(interval); next.After(now) {
			wait = next.Sub(now)
		}
	}
	s.lastSmsSent = now.Add(wait)
	return wait
}
