package filesync

import (
	"encoding/base64"
	"encoding/json"

	"github.com/assetsync/assetsync/internal/files"
)

// Event and request names.
const (
	EventHandshake  = "handshake"
	EventNewFile    = "newFile"
	EventUpdateFile = "updateFile"
	EventDeleteFile = "deleteFile"
	EventError      = "error"

	RequestHandshake    = "handshake"
	RequestReadFile     = "readFile"
	RequestSaveFile     = "saveFile"
	RequestCreateFile   = "createFile"
	RequestOpenFile     = "openFile"
	RequestGetFileGraph = "getFileGraph"
	RequestGetBundle    = "getBundle"
)

// encodingBase64 marks payload content that is base64 encoded.
const encodingBase64 = "base64"

type envelope struct {
	Event string          `json:"event,omitempty"`
	ID    uint64          `json:"id,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
}

// FileDigest announces a file without its content.
type FileDigest struct {
	Filename string `json:"filename"`
	Digest   string `json:"digest"`
}

// Handshake lists the files one side knows about.
type Handshake struct {
	Files []FileDigest `json:"files"`
}

// FilePayload carries a file with its content.
type FilePayload struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Digest   string `json:"digest"`
	Encoding string `json:"encoding,omitempty"`
}

// DeletePayload names a removed file.
type DeletePayload struct {
	Filename string `json:"filename"`
}

// ErrorPayload reports a failure to the other side.
type ErrorPayload struct {
	Operation string `json:"operation,omitempty"`
	Message   string `json:"message"`
}

// BundlePayload is the getBundle result.
type BundlePayload struct {
	Content string `json:"content"`
}

// mirrorName returns the wire filename of a registry id.
func mirrorName(id string) string {
	return "/" + id
}

// payloadOf encodes f for the wire. Binary files travel base64 encoded.
func payloadOf(f *files.File) FilePayload {
	p := FilePayload{
		Filename: mirrorName(f.ID()),
		Content:  f.Content(),
		Digest:   f.Digest(),
	}
	if f.Encoding() == "binary" {
		p.Content = base64.StdEncoding.EncodeToString([]byte(p.Content))
		p.Encoding = encodingBase64
	}
	return p
}

// decodedContent returns the raw content of p.
func (p FilePayload) decodedContent() (string, error) {
	if p.Encoding != encodingBase64 {
		return p.Content, nil
	}
	b, err := base64.StdEncoding.DecodeString(p.Content)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
