package smscmd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fleetgate/fleetgate/config"
	"github.com/fleetgate/fleetgate/store"
)

const maxInboundBody = 64 * 1024

/*
HTTPHandlers is the operator facing surface of the command channel, mounted
next to the metrics endpoint. The SMS gateway POSTs inbound device messages
to the inbound route (the mirror of the outbound POST in HTTPSender);
operators trigger a location poll or the provisioning sequence on the other
two.
*/
type HTTPHandlers struct {
	channel *Channel
	store   store.Store
}

func NewHTTPHandlers(channel *Channel, st store.Store) *HTTPHandlers {
	return &HTTPHandlers{
		channel: channel,
		store:   st,
	}
}

// Register mounts the routes on the operator mux.
func (h *HTTPHandlers) Register(mux interface {
	Handle(pattern string, handler http.Handler)
}) {
	mux.Handle("/sms/inbound", http.HandlerFunc(h.inboundHandler))
	mux.Handle("/sms/location", http.HandlerFunc(h.requestLocationHandler))
	mux.Handle("/sms/provision", http.HandlerFunc(h.provisionHandler))
}

type inboundMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// inboundHandler receives one device SMS from the gateway's delivery
// callback and correlates it to its pending request. 202 when a waiter took
// the message, 404 when nobody asked for it.
func (h *HTTPHandlers) inboundHandler(w http.ResponseWriter, r *http.Request) {
	log := config.GetLogger(h.channel.ctx)

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var message inboundMessage
	err := json.NewDecoder(io.LimitReader(r.Body, maxInboundBody)).Decode(&message)
	if err != nil || message.From == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.channel.HandleInbound(message.From, message.Message) {
		log.Debugf("Unsolicited SMS from %s dropped.", message.From)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *HTTPHandlers) requestLocationHandler(w http.ResponseWriter, r *http.Request) {
	device, ok := h.resolveDevice(w, r)
	if !ok {
		return
	}

	f, err := h.channel.RequestLocation(r.Context(), device)
	if err != nil {
		h.writeChannelError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f)
}

func (h *HTTPHandlers) provisionHandler(w http.ResponseWriter, r *http.Request) {
	device, ok := h.resolveDevice(w, r)
	if !ok {
		return
	}

	server := r.URL.Query().Get("server")
	if server == "" {
		http.Error(w, "missing server parameter", http.StatusBadRequest)
		return
	}

	err := h.channel.ConfigureDirectConnection(r.Context(), device, server)
	if err != nil {
		h.writeChannelError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandlers) resolveDevice(w http.ResponseWriter, r *http.Request) (*store.GPSDevice, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}

	identifier := r.URL.Query().Get("device")
	if identifier == "" {
		http.Error(w, "missing device parameter", http.StatusBadRequest)
		return nil, false
	}

	device, err := h.store.GetDeviceByIdentifier(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "unknown device", http.StatusNotFound)
			return nil, false
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}

	return device, true
}

func (h *HTTPHandlers) writeChannelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoSimNumber):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ErrRequestPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrCommandTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}
