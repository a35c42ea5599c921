package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatcoord/pkg/bus"
	"chatcoord/pkg/logger"
	"chatcoord/pkg/models"
	"chatcoord/pkg/telemetry"
	"chatcoord/pkg/utils"
)

func (d Deps) sendMessage(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRequestOp(r.Context(), "send_message")
	topic := bus.OrderTopic(mux.Vars(r)["order"])

	var draft models.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if draft.Sender == "" {
		utils.JSONError(w, http.StatusBadRequest, "sender missing")
		return
	}

	end := telemetry.StartSpan(r.Context(), "coordinator_send")
	msg, err := d.Hub.Get(topic).Send(r.Context(), draft)
	end()
	if err != nil {
		writeSendError(w, err)
		return
	}
	logger.Info("message_created", "topic", topic, "msg_id", msg.ID, "sender", msg.Sender)
	utils.JSONWrite(w, http.StatusCreated, msg)
}

func (d Deps) listMessages(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRequestOp(r.Context(), "list_messages")
	topic := bus.OrderTopic(mux.Vars(r)["order"])

	var beforeTS int64
	if v := r.URL.Query().Get("before"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		beforeTS = n
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := d.Hub.Get(topic).History(r.Context(), beforeTS, limit)
	if err != nil {
		writeSendError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, struct {
		Topic    string           `json:"topic"`
		Messages []models.Message `json:"messages"`
	}{Topic: topic, Messages: msgs})
}

func (d Deps) getMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	topic := bus.OrderTopic(vars["order"])
	msgID := vars["msg"]

	msgs, err := d.Hub.Get(topic).History(r.Context(), 0, 0)
	if err != nil {
		writeSendError(w, err)
		return
	}
	for _, m := range msgs {
		if m.ID == msgID {
			utils.JSONWrite(w, http.StatusOK, m)
			return
		}
	}
	utils.JSONError(w, http.StatusNotFound, "message not found")
}

func (d Deps) ackDelivered(w http.ResponseWriter, r *http.Request) {
	d.applyAck(w, r, false)
}

func (d Deps) ackRead(w http.ResponseWriter, r *http.Request) {
	d.applyAck(w, r, true)
}

func (d Deps) applyAck(w http.ResponseWriter, r *http.Request, read bool) {
	vars := mux.Vars(r)
	topic := bus.OrderTopic(vars["order"])
	msgID := vars["msg"]

	var body struct {
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Recipient == "" {
		utils.JSONError(w, http.StatusBadRequest, "recipient missing")
		return
	}

	c := d.Hub.Get(topic)
	var (
		changed bool
		err     error
	)
	if read {
		changed, err = c.MarkRead(r.Context(), msgID, body.Recipient)
	} else {
		changed, err = c.MarkDelivered(r.Context(), msgID, body.Recipient)
	}
	if err != nil {
		writeSendError(w, err)
		return
	}
	st, ok, err := c.StatusOf(r.Context(), msgID)
	if err != nil {
		writeSendError(w, err)
		return
	}
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{
		"message_id": msgID,
		"status":     st,
		"changed":    changed,
	})
}
