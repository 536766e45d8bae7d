package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DanrwAU/zenwifi/internal/coordinator"
	"github.com/DanrwAU/zenwifi/internal/zen"

	"go.uber.org/zap"
)

// Server exposes the device snapshot and the write path over HTTP for
// whatever entity layer sits in front of this bridge
type Server struct {
	coordinator *coordinator.Coordinator
	client      zen.ZenClient
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a new API server
func NewServer(coord *coordinator.Coordinator, client zen.ZenClient, logger *zap.Logger, port int) *Server {
	s := &Server{
		coordinator: coord,
		client:      client,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/devices/", s.handleDevice)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// DeviceResponse is one device's merged record as served to consumers.
// Status-derived fields are pointers so a roster-only device serves nulls
// rather than zero readings.
type DeviceResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	LocationID         string   `json:"location_id"`
	HubMacAddress      string   `json:"hub_mac_address"`
	Available          bool     `json:"available"`
	Online             bool     `json:"online"`
	HasStatus          bool     `json:"has_status"`
	Mode               *string  `json:"mode,omitempty"`
	HvacAction         *string  `json:"hvac_action,omitempty"`
	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	HeatingSetpoint    *float64 `json:"heating_setpoint,omitempty"`
	CoolingSetpoint    *float64 `json:"cooling_setpoint,omitempty"`
	CWire              *bool    `json:"c_wire,omitempty"`
}

// DevicesResponse is the full snapshot plus the cycle-level flags
type DevicesResponse struct {
	Devices           map[string]DeviceResponse `json:"devices"`
	LastUpdateSuccess bool                      `json:"last_update_success"`
	AuthRequired      bool                      `json:"auth_required"`
}

// ModeRequest is the body of a mode-change command
type ModeRequest struct {
	Mode     string   `json:"mode"`
	Setpoint *float64 `json:"setpoint,omitempty"`
}

// deviceResponse derives the consumer-facing record from a merged snapshot
// entry
func (s *Server) deviceResponse(data coordinator.DeviceData) DeviceResponse {
	resp := DeviceResponse{
		ID:            data.ID,
		Name:          data.Name,
		LocationID:    data.LocationID,
		HubMacAddress: data.HubMacAddress,
		Online:        data.Online(),
		HasStatus:     data.Status != nil,
		Available:     s.coordinator.LastUpdateSuccess() && data.Online(),
	}

	if data.Status == nil {
		return resp
	}

	status := data.Status
	mode := zen.ModeString(status.Mode)
	action := hvacAction(status)

	resp.Mode = &mode
	resp.HvacAction = &action
	resp.CurrentTemperature = &status.CurrentTemperature
	resp.HeatingSetpoint = &status.HeatingSetpoint
	resp.CoolingSetpoint = &status.CoolingSetpoint
	resp.CWire = &status.IsOnCWire

	switch mode {
	case zen.ModeHeat:
		resp.TargetTemperature = &status.HeatingSetpoint
	case zen.ModeCool:
		resp.TargetTemperature = &status.CoolingSetpoint
	}

	return resp
}

// hvacAction derives the currently running operation from the relay states
func hvacAction(status *zen.DeviceStatus) string {
	if !status.IsOnline {
		return "off"
	}

	relays := status.RelayStates
	switch {
	case relays.W1 || relays.W2:
		return "heating"
	case relays.Y1 || relays.Y2:
		return "cooling"
	case relays.G:
		return "fan"
	}

	if zen.ModeString(status.Mode) == zen.ModeOff {
		return "off"
	}
	return "idle"
}

// handleDevices returns the full snapshot as JSON
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := DevicesResponse{
		Devices:           make(map[string]DeviceResponse),
		LastUpdateSuccess: s.coordinator.LastUpdateSuccess(),
		AuthRequired:      s.coordinator.AuthRequired(),
	}
	for id, data := range s.coordinator.Data() {
		response.Devices[id] = s.deviceResponse(data)
	}

	s.writeJSON(w, http.StatusOK, response)

	s.logger.Debug("Devices request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("devices", len(response.Devices)))
}

// handleDevice serves GET /api/devices/{id} and POST /api/devices/{id}/mode
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/devices/")

	if deviceID, ok := strings.CutSuffix(rest, "/mode"); ok {
		s.handleSetMode(w, r, deviceID)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, ok := s.coordinator.Device(rest)
	if !ok {
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, s.deviceResponse(data))
}

// handleSetMode forwards a mode command to the vendor, then requests an
// out-of-band refresh so the snapshot catches up with the write
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request ModeRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.client.SetMode(r.Context(), deviceID, request.Mode, request.Setpoint); err != nil {
		s.logger.Error("Mode command failed",
			zap.String("device_id", deviceID),
			zap.String("mode", request.Mode),
			zap.Error(err))

		switch {
		case errors.Is(err, zen.ErrInvalidMode):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, zen.ErrAuthentication):
			http.Error(w, err.Error(), http.StatusUnauthorized)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}

	s.coordinator.RequestRefresh()

	s.logger.Info("Mode command accepted",
		zap.String("device_id", deviceID),
		zap.String("mode", request.Mode))

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

// handleHealth returns liveness plus the cycle-level flags
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "ok",
		"last_update_success": s.coordinator.LastUpdateSuccess(),
		"auth_required":       s.coordinator.AuthRequired(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
