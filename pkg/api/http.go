package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"chatcoord/pkg/blob"
	"chatcoord/pkg/bus"
	"chatcoord/pkg/config"
	"chatcoord/pkg/presence"
	"chatcoord/pkg/session"
	"chatcoord/pkg/store"
	"chatcoord/pkg/utils"
	"chatcoord/pkg/validation"
)

// Deps carries the shared components the handlers operate on.
type Deps struct {
	Hub      *session.Hub
	Registry *presence.Registry
	Bus      *bus.Bus
	Blob     *blob.DirStore
	Cfg      *config.Config
}

// Handler builds the REST and websocket surface.
func Handler(d Deps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", d.status).Methods(http.MethodGet)

	o := r.PathPrefix("/v1/orders/{order}").Subrouter()
	o.HandleFunc("/messages", d.sendMessage).Methods(http.MethodPost)
	o.HandleFunc("/messages", d.listMessages).Methods(http.MethodGet)
	o.HandleFunc("/messages/{msg}", d.getMessage).Methods(http.MethodGet)
	o.HandleFunc("/messages/{msg}/delivered", d.ackDelivered).Methods(http.MethodPost)
	o.HandleFunc("/messages/{msg}/read", d.ackRead).Methods(http.MethodPost)
	o.HandleFunc("/threads", d.listThreads).Methods(http.MethodGet)
	o.HandleFunc("/threads/{msg}", d.getThread).Methods(http.MethodGet)
	o.HandleFunc("/presence", d.getPresence).Methods(http.MethodGet)
	o.HandleFunc("/ws", d.serveWS)

	r.HandleFunc("/v1/attachments", d.uploadAttachment).Methods(http.MethodPost)
	if d.Blob != nil {
		r.PathPrefix("/attachments/").Handler(
			http.StripPrefix("/attachments/", http.FileServer(http.Dir(d.Blob.Dir()))))
	}

	return r
}

// writeSendError maps pipeline failures onto HTTP statuses with a JSON
// body carrying the machine reason.
func writeSendError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		utils.JSONWrite(w, http.StatusBadRequest, map[string]any{
			"error":  "rejected",
			"reason": verr.Reason,
			"detail": verr.Detail,
		})
		return
	}
	var derr *session.DenialError
	if errors.As(err, &derr) {
		utils.JSONWrite(w, http.StatusTooManyRequests, map[string]any{
			"error":          "denied",
			"reason":         derr.Reason,
			"retry_after_ms": derr.RetryAfter.Milliseconds(),
		})
		return
	}
	var perr *session.PersistenceError
	if errors.As(err, &perr) {
		utils.JSONError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if errors.Is(err, session.ErrTopicClosed) {
		utils.JSONError(w, http.StatusServiceUnavailable, "topic closed")
		return
	}
	utils.JSONError(w, http.StatusInternalServerError, err.Error())
}

func (d Deps) status(w http.ResponseWriter, r *http.Request) {
	utils.JSONWrite(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"store_ready": store.Ready(),
		"disk_bytes":  store.DiskUsage(),
		"topics":      d.Hub.Topics(),
		"bus_dropped": d.Bus.Dropped(),
	})
}
