package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatcoord/pkg/bus"
	"chatcoord/pkg/models"
	"chatcoord/pkg/utils"
)

func (d Deps) getPresence(w http.ResponseWriter, r *http.Request) {
	topic := bus.OrderTopic(mux.Vars(r)["order"])
	roster := d.Registry.List(topic)
	utils.JSONWrite(w, http.StatusOK, struct {
		Topic  string                 `json:"topic"`
		Roster []models.PresenceEntry `json:"roster"`
	}{Topic: topic, Roster: roster})
}
