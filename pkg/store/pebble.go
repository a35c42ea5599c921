package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"chatcoord/pkg/logger"
	"chatcoord/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// seq breaks ties between messages persisted in the same nanosecond so
// keys stay unique and sortable.
var seq uint64

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// msgKey builds the sortable per-topic key. The topic string already
// carries its namespace ("order:<id>"), so keys sort first by topic then
// by persistence time.
func msgKey(topic string, ts int64, s uint64) []byte {
	return []byte(fmt.Sprintf("%s:msg:%020d-%06d", topic, ts, s))
}

func versionKey(msgID string, ts int64, s uint64) []byte {
	return []byte(fmt.Sprintf("version:msg:%s:%020d-%06d", msgID, ts, s))
}

// SaveMessage appends a message to its topic under a sortable timestamp
// key and indexes it by message ID so later ack updates version it. The
// returned message carries the timestamp it was persisted with.
func SaveMessage(topic string, msg models.Message) (models.Message, error) {
	if db == nil {
		return msg, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if msg.TS == 0 {
		msg.TS = time.Now().UTC().UnixNano()
	}
	msg.Topic = topic
	s := atomic.AddUint64(&seq, 1)
	key := msgKey(topic, msg.TS, s)

	data, err := json.Marshal(msg)
	if err != nil {
		return msg, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "topic", topic, "key", string(key), "error", err)
		return msg, err
	}
	if msg.ID != "" {
		if err := db.Set(versionKey(msg.ID, msg.TS, s), data, pebble.Sync); err != nil {
			logger.Error("save_message_index_failed", "msg_id", msg.ID, "error", err)
			return msg, err
		}
	}
	logger.Debug("message_saved", "topic", topic, "msg_id", msg.ID)
	return msg, nil
}

// UpdateMessage appends a new version for an existing message, used when
// ack sets change after the initial write. The topic-order key is left
// alone; readers resolve the latest version by ID.
func UpdateMessage(msg models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if msg.ID == "" {
		return fmt.Errorf("message has no id")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	s := atomic.AddUint64(&seq, 1)
	ts := time.Now().UTC().UnixNano()
	if err := db.Set(versionKey(msg.ID, ts, s), data, pebble.Sync); err != nil {
		logger.Error("update_message_failed", "msg_id", msg.ID, "error", err)
		return err
	}
	return nil
}

// ListMessages returns the topic's messages in insertion order. When
// beforeTS > 0 only messages older than it are returned; when limit > 0
// only the newest limit of those are kept. Each message is resolved to
// its latest version.
func ListMessages(topic string, beforeTS int64, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(topic + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("list_messages_bad_json", "topic", topic, "key", string(iter.Key()), "error", err)
			continue
		}
		if beforeTS > 0 && m.TS >= beforeTS {
			continue
		}
		if latest, err := GetLatestMessage(m.ID); err == nil {
			m = latest
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// GetLatestMessage returns the latest stored version for a message ID.
func GetLatestMessage(msgID string) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("version:msg:" + msgID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return models.Message{}, err
	}
	defer iter.Close()
	var raw []byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		raw = append(raw[:0], iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return models.Message{}, err
	}
	if raw == nil {
		return models.Message{}, fmt.Errorf("message not found: %s", msgID)
	}
	var m models.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.Message{}, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

// PurgeOlderThan deletes messages persisted before cutoff across all
// topics, including their version index entries, in batches of batchSize.
// With dryRun set it only counts. Returns the number of messages affected
// and their IDs.
func PurgeOlderThan(cutoff int64, batchSize int, dryRun bool) (int, []string, error) {
	if db == nil {
		return 0, nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, nil, err
	}
	defer iter.Close()

	var ids []string
	batch := db.NewBatch()
	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := batch.Commit(pebble.Sync); err != nil {
			return err
		}
		batch = db.NewBatch()
		pending = 0
		return nil
	}
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if !bytes.Contains(key, []byte(":msg:")) || bytes.HasPrefix(key, []byte("version:")) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.TS >= cutoff {
			continue
		}
		ids = append(ids, m.ID)
		if dryRun {
			continue
		}
		if err := batch.Delete(append([]byte(nil), key...), nil); err != nil {
			return len(ids), ids, err
		}
		pending++
		if err := purgeVersions(batch, m.ID, &pending); err != nil {
			return len(ids), ids, err
		}
		if pending >= batchSize {
			if err := flush(); err != nil {
				return len(ids), ids, err
			}
		}
	}
	if err := iter.Error(); err != nil {
		return len(ids), ids, err
	}
	if !dryRun {
		if err := flush(); err != nil {
			return len(ids), ids, err
		}
	}
	logger.Info("purge_complete", "cutoff", cutoff, "messages", len(ids), "dry_run", dryRun)
	return len(ids), ids, nil
}

func purgeVersions(batch *pebble.Batch, msgID string, pending *int) error {
	prefix := []byte("version:msg:" + msgID + ":")
	it, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.SeekGE(prefix); it.Valid(); it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			break
		}
		if err := batch.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
			return err
		}
		*pending++
	}
	return it.Error()
}
