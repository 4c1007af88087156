package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"iotpanel/ledger"
	"iotpanel/models"
)

const maxBodyBytes = 64 << 10

type sendMessageRequest struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

type sendMessageResponse struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
}

type markReadResponse struct {
	Account   string `json:"account"`
	Signature string `json:"signature"`
	Status    string `json:"status"`
}

type registerDeviceRequest struct {
	Type string `json:"type"`
}

type updateDeviceRequest struct {
	Type string `json:"type"`
}

type registerDeviceResponse struct {
	Device    models.Device `json:"device"`
	Signature string        `json:"signature"`
	Status    string        `json:"status"`
}

type devicesResponse struct {
	Source  DeviceSource    `json:"source"`
	Names   []string        `json:"names,omitempty"`
	Devices []models.Device `json:"devices,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK\n")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, s.view.Snapshot()); err != nil {
		s.logger.Error("render dashboard", "request_id", requestIDFrom(r.Context()), "error", err)
	}
}

func (s *Server) handleSendForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	// Failures are already reflected in the view status.
	_, _ = s.view.SendMessage(r.Context(), r.PostFormValue("recipient"), r.PostFormValue("content"))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	_, _ = s.view.RegisterDevice(r.Context(), r.PostFormValue("type"))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSelectForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	s.view.SelectDevice(r.PostFormValue("name"))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Snapshot())
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.view.RefreshMessages(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	signature, err := s.view.SendMessage(r.Context(), req.Recipient, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sendMessageResponse{
		Signature: signature.String(),
		Status:    StatusMessageSent,
	})
}

func (s *Server) handleMessageRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.view.MessageRecords(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	signature, err := s.view.MarkMessageRead(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markReadResponse{
		Account:   account,
		Signature: signature.String(),
		Status:    StatusMessageRead,
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	source, err := ParseDeviceSource(r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, ledger.Wrap(ledger.KindValidation, "list devices", err))
		return
	}

	switch source {
	case DeviceSourceLedger:
		devices, err := s.view.LedgerDevices(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, devicesResponse{Source: source, Devices: devices})
	default:
		writeJSON(w, http.StatusOK, devicesResponse{Source: source, Names: s.view.SimulatedDevices()})
	}
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	reg, err := s.view.RegisterDevice(r.Context(), req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerDeviceResponse{
		Device:    reg.Device,
		Signature: reg.Signature.String(),
		Status:    StatusDeviceRegistered,
	})
}

func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req updateDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	change, err := s.view.UpdateDevice(r.Context(), mux.Vars(r)["id"], req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerDeviceResponse{
		Device:    change.Device,
		Signature: change.Signature.String(),
		Status:    StatusDeviceUpdated,
	})
}

func (s *Server) handleDeactivateDevice(w http.ResponseWriter, r *http.Request) {
	change, err := s.view.DeactivateDevice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerDeviceResponse{
		Device:    change.Device,
		Signature: change.Signature.String(),
		Status:    StatusDeviceDeactivated,
	})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.view.RefreshWallet(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	writeJSON(w, http.StatusOK, s.view.SelectDevice(name))
}

func decodeJSON(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return ledger.Errorf(ledger.KindValidation, "decode request", "unsupported content type %q", ct)
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return ledger.Wrap(ledger.KindValidation, "decode request", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	writeJSON(w, statusForKind(kind), errorResponse{
		Error: err.Error(),
		Kind:  kind.String(),
	})
}

func statusForKind(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation, ledger.KindConfiguration:
		return http.StatusBadRequest
	case ledger.KindConnection:
		return http.StatusServiceUnavailable
	case ledger.KindSubmission, ledger.KindRetrieval, ledger.KindParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
