package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Op names the kind of change a message announces.
type Op string

const (
	OpCreated    Op = "created"
	OpDeleted    Op = "deleted"
	OpArchived   Op = "archived"
	OpUnarchived Op = "unarchived"
	OpAttached   Op = "attached"
	OpDetached   Op = "detached"
	OpUpserted   Op = "upserted"
)

// MonthlyStatsCollection is the routing key for monthly statistic changes.
const MonthlyStatsCollection = "monthly_stats"

var ErrInvalidMessage = errors.New("invalid change message")

// ChangeMessage announces a committed write. Consumers reload the named
// collection from the store; the message never carries record contents.
type ChangeMessage struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	RecordID   string    `json:"record_id"`
	Op         Op        `json:"op"`
	Origin     string    `json:"origin,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewChangeMessage(collection, recordID string, op Op) *ChangeMessage {
	return &ChangeMessage{
		ID:         uuid.NewString(),
		Collection: collection,
		RecordID:   recordID,
		Op:         op,
		Timestamp:  time.Now().UTC(),
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes and checks a message body.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Collection == "" || msg.Op == "" {
		return nil, fmt.Errorf("%w: missing collection or op", ErrInvalidMessage)
	}
	return &msg, nil
}
