package sandbox

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/webnode/internal/vfs"
)

// MessageType discriminates envelopes on the wire.
type MessageType string

const (
	// Host -> worker.
	TypeInit       MessageType = "init"
	TypeExecute    MessageType = "execute"
	TypeRunFile    MessageType = "runFile"
	TypeClearCache MessageType = "clearCache"
	TypeSyncFile   MessageType = "syncFile"

	// Worker -> host.
	TypeReady   MessageType = "ready"
	TypeResult  MessageType = "result"
	TypeError   MessageType = "error"
	TypeConsole MessageType = "console"
)

// Envelope is one frame on the boundary. ID correlates a request with
// its result; fire-and-forget types (init, syncFile, console) carry no
// ID.
type Envelope struct {
	Type MessageType `json:"type"`
	ID   uint64      `json:"id,omitempty"`

	// Request payloads.
	Code     string        `json:"code,omitempty"`
	Path     string        `json:"path,omitempty"`
	Content  []byte        `json:"content,omitempty"`
	Dir      bool          `json:"dir,omitempty"`
	Deleted  bool          `json:"deleted,omitempty"`
	Snapshot *vfs.Snapshot `json:"snapshot,omitempty"`

	// Response payloads.
	Value interface{} `json:"value,omitempty"`
	Error string      `json:"error,omitempty"`

	// Console payload.
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

func encodeEnvelope(env *Envelope) ([]byte, error) {
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &env, nil
}
