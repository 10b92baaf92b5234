// Package handler exposes the discovery engine over HTTP. All routes
// live under /api and speak JSON; the event stream is served separately
// by the hub.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"camscout/internal/digest"
	"camscout/internal/domain"
	"camscout/internal/negotiate"
	"camscout/internal/service"
)

// DiscoveryHandler handles discovery API requests
type DiscoveryHandler struct {
	svc *service.DiscoveryService
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(svc *service.DiscoveryService) *DiscoveryHandler {
	return &DiscoveryHandler{svc: svc}
}

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// StartScan launches a background scan and returns its ID
func (h *DiscoveryHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	var params service.ScanParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.svc.StartScan(params)
	if err != nil {
		h.writeError(w, "Failed to start scan", err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, map[string]string{"scan_id": id}, http.StatusAccepted)
}

// StartServiceScan launches a passive-only discovery pass
func (h *DiscoveryHandler) StartServiceScan(w http.ResponseWriter, r *http.Request) {
	var params struct {
		Credentials []domain.CredentialSet `json:"credentials,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
			return
		}
	}

	id := h.svc.StartServiceScan(params.Credentials)
	h.writeJSON(w, map[string]string{"scan_id": id}, http.StatusAccepted)
}

// CancelScan stops a running scan
func (h *DiscoveryHandler) CancelScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, "Scan ID required", "", http.StatusBadRequest)
		return
	}

	if err := h.svc.CancelScan(id); err != nil {
		if errors.Is(err, service.ErrScanNotFound) {
			h.writeError(w, "Scan not found", err.Error(), http.StatusNotFound)
			return
		}
		h.writeError(w, "Failed to cancel scan", err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListScans returns the IDs of scans currently running
func (h *DiscoveryHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string][]string{"active": h.svc.ActiveScans()}, http.StatusOK)
}

// ListDevices returns discovered devices, optionally filtered by role
func (h *DiscoveryHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.Devices(r.URL.Query().Get("role"))
	if err != nil {
		h.writeError(w, "Invalid role filter", err.Error(), http.StatusBadRequest)
		return
	}
	if devices == nil {
		devices = []*domain.Device{}
	}
	h.writeJSON(w, devices, http.StatusOK)
}

// TestCredentials tests a credential set against one address
func (h *DiscoveryHandler) TestCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP       string `json:"ip"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if req.IP == "" {
		h.writeError(w, "IP required", "", http.StatusBadRequest)
		return
	}

	dev, err := h.svc.TestCredentials(r.Context(), req.IP,
		domain.CredentialSet{Username: req.Username, Password: req.Password})
	if err != nil {
		h.writeTestResult(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"ok": true, "device": dev}, http.StatusOK)
}

// TestDevice re-tests a registered device with its stored credentials
func (h *DiscoveryHandler) TestDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, "Device ID required", "", http.StatusBadRequest)
		return
	}

	dev, err := h.svc.TestDevice(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNoStoredCredentials) {
			h.writeError(w, "No stored credentials", err.Error(), http.StatusConflict)
			return
		}
		h.writeTestResult(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"ok": true, "device": dev}, http.StatusOK)
}

// writeTestResult maps identification failures to useful statuses:
// wrong credentials and unreachable hosts are caller errors, not server
// faults.
func (h *DiscoveryHandler) writeTestResult(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, digest.ErrAuthFailed):
		h.writeJSON(w, map[string]any{"ok": false, "reason": "auth_failed"}, http.StatusOK)
	case errors.Is(err, digest.ErrAuthUnsupported):
		h.writeJSON(w, map[string]any{"ok": false, "reason": "auth_unsupported"}, http.StatusOK)
	case errors.Is(err, negotiate.ErrNoOpenPort):
		h.writeJSON(w, map[string]any{"ok": false, "reason": "unreachable"}, http.StatusOK)
	default:
		log.Printf("Credential test failed: %v", err)
		h.writeError(w, "Test failed", err.Error(), http.StatusBadGateway)
	}
}

// GetPreDiscovery returns the startup pass state and cached candidates
func (h *DiscoveryHandler) GetPreDiscovery(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.PreDiscovery(r.Context())
	if err != nil {
		log.Printf("Failed to read pre-discovery state: %v", err)
		h.writeError(w, "Failed to read pre-discovery state", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, snap, http.StatusOK)
}

// ClassifyCandidates classifies cached candidates with credentials
func (h *DiscoveryHandler) ClassifyCandidates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Credentials []domain.CredentialSet `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Credentials) == 0 {
		h.writeError(w, "Credentials required", "classification needs at least one credential set", http.StatusBadRequest)
		return
	}

	devices, err := h.svc.ClassifyCandidates(r.Context(), req.Credentials)
	if err != nil {
		log.Printf("Failed to classify candidates: %v", err)
		h.writeError(w, "Failed to classify candidates", err.Error(), http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []*domain.Device{}
	}
	h.writeJSON(w, devices, http.StatusOK)
}

// ListInterfaces enumerates usable local interfaces
func (h *DiscoveryHandler) ListInterfaces(w http.ResponseWriter, r *http.Request) {
	infos, err := h.svc.Interfaces()
	if err != nil {
		log.Printf("Failed to list interfaces: %v", err)
		h.writeError(w, "Failed to list interfaces", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, infos, http.StatusOK)
}

// ClearCache wipes the persistent probe and candidate caches
func (h *DiscoveryHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		log.Printf("Failed to clear cache: %v", err)
		h.writeError(w, "Failed to clear cache", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health is the liveness endpoint
func (h *DiscoveryHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Helper functions

func (h *DiscoveryHandler) writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}

func (h *DiscoveryHandler) writeError(w http.ResponseWriter, msg, details string, status int) {
	h.writeJSON(w, ErrorResponse{Error: msg, Details: details}, status)
}
