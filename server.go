package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"i4.energy/across/simgw/modem"
)

// defaultATTimeout bounds POST /at when the caller gives no timeout.
const defaultATTimeout = 5 * time.Second

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  Device
	// Events serves GET /events, nil disables it.
	Events http.Handler
	// Token, when set, must be presented as "Authorization: Bearer <token>".
	Token string
	// APN is used when a connect request names none.
	APN string

	once   sync.Once
	router http.Handler
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() { s.router = s.Routes() })
	s.router.ServeHTTP(w, r)
}

// Routes builds the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/sms", s.handleSMS)
		r.Post("/at", s.handleAT)
		r.Get("/status", s.handleStatus)
		r.Get("/time", s.handleTime)

		r.Post("/mqtt/connect", s.handleMqttConnect)
		r.Post("/mqtt/publish", s.handleMqttPublish)
		r.Post("/mqtt/subscribe", s.handleMqttSubscribe)

		r.Post("/http/connect", s.handleHttpConnect)
		r.Post("/http/post", s.handleHttpPost)
		r.Post("/sheet/init", s.handleSheetInit)
		r.Post("/sheet/write", s.handleSheetWrite)

		r.Post("/gps/init", s.handleGpsInit)
		r.Get("/gps", s.handleGps)

		if s.Events != nil {
			r.Handle("/events", s.Events)
		}
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.Token {
				s.sendError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// fail logs a modem error and answers 500.
func (s *Server) fail(w http.ResponseWriter, msg string, err error, args ...any) {
	s.Logger.Error(msg, append([]any{"error", err}, args...)...)
	s.sendError(w, err.Error(), http.StatusInternalServerError)
}

// SmsRequest is the body of POST /sms and of bridged send requests.
type SmsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	var req SmsRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.To == "" || req.Message == "" {
		s.sendError(w, "both 'to' and 'message' fields are required", http.StatusBadRequest)
		return
	}

	res, err := s.Modem.SendSMS(r.Context(), req.To, req.Message)
	if err != nil {
		s.fail(w, "Failed to send SMS", err, "to", req.To)
		return
	}
	if !res.OK() {
		s.Logger.Warn("Modem refused SMS", "to", req.To, "status", res.Status, "response", res.Response)
		s.sendError(w, fmt.Sprintf("modem refused message: %s", res.Status), http.StatusBadGateway)
		return
	}

	s.Logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message))
	s.sendJSON(w, map[string]string{"status": "sent", "response": res.Response})
}

func (s *Server) handleAT(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command   string `json:"command"`
		TimeoutMs int    `json:"timeout_ms"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Command == "" {
		s.sendError(w, "'command' field is required", http.StatusBadRequest)
		return
	}

	timeout := defaultATTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	resp, err := s.Modem.SendRaw(r.Context(), req.Command, timeout)
	if err != nil {
		s.fail(w, "AT command failed", err, "command", req.Command)
		return
	}
	s.sendJSON(w, map[string]string{"response": resp})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	signal, err := s.Modem.SignalQuality(r.Context())
	if err != nil {
		s.fail(w, "Failed to read signal quality", err)
		return
	}
	registration, err := s.Modem.RegistrationStatus(r.Context())
	if err != nil {
		s.fail(w, "Failed to read registration", err)
		return
	}
	s.sendJSON(w, struct {
		Signal       int            `json:"signal"`
		Registration int            `json:"registration"`
		Session      modem.Snapshot `json:"session"`
	}{signal, registration, s.Modem.State()})
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	t, err := s.Modem.DateTime(r.Context())
	if err != nil {
		s.fail(w, "Failed to read network time", err)
		return
	}
	s.sendJSON(w, map[string]string{"time": t})
}

func (s *Server) handleMqttConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APN      string `json:"apn"`
		Broker   string `json:"broker"`
		Port     string `json:"port"`
		ClientID string `json:"client_id"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Broker == "" {
		s.sendError(w, "'broker' field is required", http.StatusBadRequest)
		return
	}
	if req.Port == "" {
		req.Port = "1883"
	}
	if req.ClientID == "" {
		req.ClientID = "simgw-" + uuid.NewString()[:8]
	}
	if req.APN == "" {
		req.APN = s.APN
	}

	if err := s.Modem.MqttInit(r.Context(), req.APN); err != nil {
		s.fail(w, "Failed to attach for MQTT", err, "apn", req.APN)
		return
	}
	err := s.Modem.ConnectMqtt(r.Context(), modem.MqttConfig{
		Broker:   req.Broker,
		Port:     req.Port,
		ClientID: req.ClientID,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		s.fail(w, "Failed to connect MQTT", err, "broker", req.Broker)
		return
	}
	s.Logger.Info("MQTT connected", "broker", req.Broker, "client_id", req.ClientID)
	s.sendJSON(w, map[string]string{"status": "connected", "client_id": req.ClientID})
}

func (s *Server) handleMqttPublish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic   string `json:"topic"`
		Payload string `json:"payload"`
		QoS     int    `json:"qos"`
		Retain  bool   `json:"retain"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Topic == "" {
		s.sendError(w, "'topic' field is required", http.StatusBadRequest)
		return
	}
	retain := 0
	if req.Retain {
		retain = 1
	}
	if err := s.Modem.Publish(r.Context(), req.Topic, req.Payload, req.QoS, retain); err != nil {
		s.fail(w, "Failed to publish", err, "topic", req.Topic)
		return
	}
	s.sendJSON(w, map[string]string{"status": "published"})
}

func (s *Server) handleMqttSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Topic == "" {
		s.sendError(w, "'topic' field is required", http.StatusBadRequest)
		return
	}
	if err := s.Modem.Subscribe(r.Context(), req.Topic); err != nil {
		s.fail(w, "Failed to subscribe", err, "topic", req.Topic)
		return
	}
	s.sendJSON(w, map[string]string{"status": "subscribed"})
}

func (s *Server) handleHttpConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APN string `json:"apn"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.APN == "" {
		req.APN = s.APN
	}
	if err := s.Modem.ConnectHttp(r.Context(), req.APN); err != nil {
		s.fail(w, "Failed to open HTTP bearer", err, "apn", req.APN)
		return
	}
	s.sendJSON(w, map[string]string{"status": "connected"})
}

func (s *Server) handleHttpPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL  string `json:"url"`
		Data string `json:"data"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		s.sendError(w, "'url' field is required", http.StatusBadRequest)
		return
	}
	if err := s.Modem.HttpPost(r.Context(), req.URL, req.Data); err != nil {
		s.fail(w, "HTTP post failed", err, "url", req.URL)
		return
	}
	s.sendJSON(w, map[string]string{"status": "posted"})
}

func (s *Server) handleSheetInit(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.SheetInit(r.Context()); err != nil {
		s.fail(w, "Failed to open the sheet endpoint", err)
		return
	}
	s.sendJSON(w, map[string]string{"status": "connected"})
}

func (s *Server) handleSheetWrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScriptID string   `json:"script_id"`
		Values   []string `json:"values"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ScriptID == "" || len(req.Values) == 0 {
		s.sendError(w, "both 'script_id' and 'values' fields are required", http.StatusBadRequest)
		return
	}
	if err := s.Modem.SheetWrite(r.Context(), req.ScriptID, req.Values); err != nil {
		s.fail(w, "Sheet write failed", err, "script_id", req.ScriptID)
		return
	}
	s.sendJSON(w, map[string]string{"status": "written"})
}

func (s *Server) handleGpsInit(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.GpsInit(r.Context()); err != nil {
		s.fail(w, "Failed to power GNSS", err)
		return
	}
	s.sendJSON(w, map[string]string{"status": "powered"})
}

// handleGps waits for a fix for as long as the client keeps the request open.
func (s *Server) handleGps(w http.ResponseWriter, r *http.Request) {
	pos, err := s.Modem.Position(r.Context())
	if err != nil {
		s.fail(w, "Failed to read position", err)
		return
	}
	s.sendJSON(w, map[string]string{"position": pos})
}
