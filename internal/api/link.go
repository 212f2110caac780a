package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sweiot-link/internal/audit"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/device"
	"github.com/nerrad567/sweiot-link/internal/security"
)

type channelRequest struct {
	Channel string `json:"channel"`
}

type channelResponse struct {
	Channel channel.Channel `json:"channel"`
	Name    string          `json:"name"`
}

type sendRequest struct {
	Text string `json:"text"`
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type securityResponse struct {
	Status        security.Status `json:"status"`
	RequireSecure bool            `json:"require_secure"`
	LoggedIn      bool            `json:"logged_in"`
}

type ownershipResponse struct {
	DeviceID string `json:"device_id"`
	Owned    bool   `json:"owned"`
}

type devicesResponse struct {
	Devices []device.Device `json:"devices"`
	Count   int             `json:"count"`
}

// accepted is the body of 202 responses. Results arrive as events.
var accepted = map[string]string{"status": "accepted"}

// decodeBody decodes a JSON request body, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func operatorName(r *http.Request) string {
	op, _ := operatorFromContext(r.Context())
	return op.Username
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Server) handleGetChannel(w http.ResponseWriter, _ *http.Request) {
	ch := s.coord.Snapshot().Channel
	writeJSON(w, http.StatusOK, channelResponse{Channel: ch, Name: ch.DisplayName()})
}

// handleSwitchChannel makes the requested channel active.
func (s *Server) handleSwitchChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ch, err := channel.ParseChannel(req.Channel)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	if err := s.coord.SwitchChannel(ch); err != nil {
		writeLinkError(w, err)
		return
	}
	s.auditLog(audit.ActionChannelSwitch, audit.EntityChannel, ch.String(), operatorName(r), nil)
	writeJSON(w, http.StatusOK, channelResponse{Channel: ch, Name: ch.DisplayName()})
}

// handleSend queues a command for the active device.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.coord.Send(strings.TrimSpace(req.Text)); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleInit(w http.ResponseWriter, _ *http.Request) {
	if err := s.coord.SendInitSequence(); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleSecurity(w http.ResponseWriter, _ *http.Request) {
	snap := s.coord.Snapshot()
	writeJSON(w, http.StatusOK, securityResponse{
		Status:        snap.SecurityStatus,
		RequireSecure: snap.RequireSecure,
		LoggedIn:      snap.LoggedIn,
	})
}

// handleSecurityLogin opens a management server session.
func (s *Server) handleSecurityLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if err := s.coord.Login(r.Context(), req.Username, req.Password); err != nil {
		writeLinkError(w, err)
		return
	}
	s.auditLog(audit.ActionLogin, audit.EntitySession, req.Username, operatorName(r), nil)
	s.handleSecurity(w, r)
}

func (s *Server) handleSecurityLogout(w http.ResponseWriter, _ *http.Request) {
	s.coord.Logout()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.coord.DeviceList()
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: devices, Count: len(devices)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.coord.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeviceOwnership asks the management server whether the logged in
// user owns the device.
func (s *Server) handleDeviceOwnership(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	owned, err := s.coord.CheckOwnership(r.Context(), id)
	if err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ownershipResponse{DeviceID: id, Owned: owned})
}

// handleSetPublicKey writes the device public key to the current device.
func (s *Server) handleSetPublicKey(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.SetPublicKey(r.Context()); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleRemovePublicKey(w http.ResponseWriter, _ *http.Request) {
	if err := s.coord.RemovePublicKey(); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleStartScan(w http.ResponseWriter, _ *http.Request) {
	if err := s.coord.StartScan(); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleStopScan(w http.ResponseWriter, _ *http.Request) {
	if err := s.coord.StopScan(); err != nil {
		writeLinkError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConnect connects to a scanned BLE device.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}
	if err := s.coord.Connect(req.DeviceID); err != nil {
		writeLinkError(w, err)
		return
	}
	s.auditLog(audit.ActionConnect, audit.EntityDevice, req.DeviceID, operatorName(r), nil)
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Disconnect(); err != nil {
		writeLinkError(w, err)
		return
	}
	s.auditLog(audit.ActionDisconnect, audit.EntityDevice, "", operatorName(r), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetchRelay(w http.ResponseWriter, _ *http.Request) {
	if err := s.coord.FetchRelayDevices(); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

// handleSelectRelay selects a relay device and starts polling it.
func (s *Server) handleSelectRelay(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}
	if err := s.coord.SelectRelayDevice(req.DeviceID); err != nil {
		writeLinkError(w, err)
		return
	}
	s.auditLog(audit.ActionSelect, audit.EntityDevice, req.DeviceID, operatorName(r), nil)
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handlePollRelay(w http.ResponseWriter, _ *http.Request) {
	if err := s.coord.PollRelay(); err != nil {
		writeLinkError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

// handleRelayQueue returns the pending downlinks of the selected relay
// device as reported by Yggio.
func (s *Server) handleRelayQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeServiceUnavailable(w, "relay link not configured")
		return
	}
	queue, err := s.queue.DeviceQueue(r.Context())
	if err != nil {
		writeLinkError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response
	w.Write(queue)
}

func (s *Server) handleFlushRelayQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeServiceUnavailable(w, "relay link not configured")
		return
	}
	if err := s.queue.FlushQueue(r.Context()); err != nil {
		writeLinkError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
