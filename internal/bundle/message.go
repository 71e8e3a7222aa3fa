package bundle

import (
	"encoding/json"
	"io"
)

// IPCEnv is set in the build process environment to select JSON line output.
const IPCEnv = "ASSETSYNC_IPC"

// EventDone marks a finished build.
const EventDone = "done"

// Message is one line written by the build process.
type Message struct {
	Event  string         `json:"event,omitempty"`
	Error  string         `json:"error,omitempty"`
	Bundle *BundleContent `json:"bundle,omitempty"`
}

// BundleContent is the payload of a done message.
type BundleContent struct {
	Content string   `json:"content"`
	Files   []string `json:"files,omitempty"`
}

// Encoder writes messages as JSON lines.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Done reports a finished bundle.
func (e *Encoder) Done(content string, files []string) error {
	return e.enc.Encode(Message{Event: EventDone, Bundle: &BundleContent{Content: content, Files: files}})
}

// Fail reports a build error.
func (e *Encoder) Fail(err error) error {
	return e.enc.Encode(Message{Error: err.Error()})
}
