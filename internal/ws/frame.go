package ws

import "encoding/json"

// Frame types pushed over the live log channel.
const (
	FrameConnected = "connected"
	FrameLog       = "log"
	FrameStatus    = "status"
	FrameCompleted = "completed"
	FrameFailed    = "failed"
)

// Streams tag which pipeline phase produced a log frame.
const (
	StreamBuild  = "build"
	StreamDeploy = "deploy"
)

// Frame is one server→observer message on the live log channel.
type Frame struct {
	ProjectID string `json:"projectId"`
	Type      string `json:"type"`
	Stream    string `json:"stream,omitempty"`
	Message   string `json:"message"`
}

// Encode marshals the frame; a frame that cannot marshal is dropped by
// returning nil.
func (f Frame) Encode() []byte {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	return raw
}
