package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/mindlog/mindlog/internal/service"
)

// Subscriber is the change feed of the storage service.
// *service.Service satisfies it.
type Subscriber interface {
	Subscribe(fn func(service.Change)) (unsubscribe func())
}

// Handler turns service changes into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// Attach subscribes to sub and returns the function that detaches it.
func (h *Handler) Attach(sub Subscriber) (detach func()) {
	return sub.Subscribe(h.OnChange)
}

// OnChange broadcasts c, followed by fresh stats when entry counts may have
// changed.
func (h *Handler) OnChange(c service.Change) {
	var (
		msgType MessageType
		data    any
	)

	switch c.Kind {
	case service.ChangeSaved, service.ChangeUpdated:
		if c.Entry == nil {
			return
		}
		msgType = MessageTypeEntry
		data = EntryData{Action: string(c.Kind), Partition: c.Entry.Partition, Entry: c.Entry}
	case service.ChangeCleared:
		msgType = MessageTypeCleared
		data = PartitionsData{Partitions: c.Partitions}
	case service.ChangeSynced:
		msgType = MessageTypeSynced
		data = PartitionsData{Partitions: c.Partitions}
	case service.ChangeGlobal:
		msgType = MessageTypeDocument
		data = DocumentData{Document: c.Document}
	default:
		h.logger.Printf("Ignoring change of kind %q", c.Kind)
		return
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", msgType, err)
		return
	}
	h.server.Broadcast(Message{Type: msgType, Timestamp: time.Now(), Data: dataJSON})

	if msgType != MessageTypeDocument {
		h.broadcastStats()
	}
}

func (h *Handler) broadcastStats() {
	msg, err := h.server.statsMessage()
	if err != nil {
		h.logger.Printf("Failed to build stats: %v", err)
		return
	}
	h.server.Broadcast(msg)
}
