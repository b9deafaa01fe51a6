package wsapi

import (
	"encoding/json"

	"github.com/satori/go.uuid"
)

// MessagePrefix keys every message type on the shared addon channel, so
// paragon traffic coexists with whatever else the host multiplexes there.
const MessagePrefix = "paragon"

type Message struct {
	Type      string
	MessageID uuid.UUID `json:"messageID"`
	Payload   json.RawMessage
}

const (
	MessageTypeProcessingError = MessagePrefix + ":processing-error"
	// MessageTypeLoadCommand asks for the subject's progression snapshot.
	MessageTypeLoadCommand  = MessagePrefix + ":load"
	MessageTypeLoadComplete = MessagePrefix + ":state"
	// MessageTypeUpdateCommand submits a batched stat allocation.
	MessageTypeUpdateCommand  = MessagePrefix + ":update"
	MessageTypeUpdateComplete = MessagePrefix + ":updated"
	// MessageTypeGrantCommand feeds a synthetic experience trigger; the
	// production host delivers these through its own event dispatch, the
	// demo daemon accepts them over the wire.
	MessageTypeGrantCommand  = MessagePrefix + ":grant"
	MessageTypeGrantComplete = MessagePrefix + ":granted"
)

// StatEntry is one catalogue stat annotated with the subject's current
// investment.
type StatEntry struct {
	StatID   uint32  `json:"statId"`
	Kind     string  `json:"kind"`
	Icon     string  `json:"icon"`
	Factor   float64 `json:"factor"`
	Limit    int     `json:"limit"`
	Invested int     `json:"invested"`
}

type CategoryEntry struct {
	CategoryID uint32      `json:"categoryId"`
	Name       string      `json:"name"`
	Stats      []StatEntry `json:"stats"`
}

// CompleteLoad is the server's answer to a load command: the subject's
// progression plus the full annotated catalogue.
type CompleteLoad struct {
	Level              int             `json:"level"`
	CurrentExperience  int             `json:"currentExperience"`
	RequiredExperience int             `json:"requiredExperience"`
	Points             int             `json:"points"`
	Categories         []CategoryEntry `json:"categories"`
}

// ChangeEntry is one element of an update command's batch.
type ChangeEntry struct {
	CategoryID uint32 `json:"categoryId"`
	StatID     uint32 `json:"statId"`
	Value      int    `json:"value"`
}

type CommandUpdate struct {
	Changes []ChangeEntry `json:"changes"`
}

type CommandGrant struct {
	Source  string `json:"source"`
	EntryID uint32 `json:"entryId"`
}
