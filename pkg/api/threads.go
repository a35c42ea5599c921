package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatcoord/pkg/bus"
	"chatcoord/pkg/models"
	"chatcoord/pkg/telemetry"
	"chatcoord/pkg/utils"
)

type threadSummary struct {
	RootID     string `json:"root_id"`
	Preview    string `json:"preview"`
	ReplyCount int    `json:"reply_count"`
}

func (d Deps) listThreads(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRequestOp(r.Context(), "list_threads")
	topic := bus.OrderTopic(mux.Vars(r)["order"])

	idx, err := d.Hub.Get(topic).Threads(r.Context())
	if err != nil {
		writeSendError(w, err)
		return
	}
	out := []threadSummary{}
	for _, root := range idx.Roots() {
		n, _ := idx.ReplyCount(root)
		preview, _ := idx.PreviewOf(root)
		out = append(out, threadSummary{RootID: root, Preview: preview, ReplyCount: n})
	}
	utils.JSONWrite(w, http.StatusOK, struct {
		Topic   string          `json:"topic"`
		Threads []threadSummary `json:"threads"`
	}{Topic: topic, Threads: out})
}

func (d Deps) getThread(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	topic := bus.OrderTopic(vars["order"])
	rootID := vars["msg"]

	idx, err := d.Hub.Get(topic).Threads(r.Context())
	if err != nil {
		writeSendError(w, err)
		return
	}
	// a reply id resolves to its root's thread
	resolved, ok := idx.RootOf(rootID)
	if ok {
		rootID = resolved
	}
	replies := idx.ThreadOf(rootID)
	if replies == nil {
		utils.JSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	preview, _ := idx.PreviewOf(rootID)

	// the root message leads the thread view
	var root models.Message
	if msgs, err := d.Hub.Get(topic).History(r.Context(), 0, 0); err == nil {
		for _, m := range msgs {
			if m.ID == rootID {
				root = m
				break
			}
		}
	}
	utils.JSONWrite(w, http.StatusOK, struct {
		RootID  string           `json:"root_id"`
		Preview string           `json:"preview"`
		Root    models.Message   `json:"root"`
		Replies []models.Message `json:"replies"`
	}{RootID: rootID, Preview: preview, Root: root, Replies: replies})
}
