package handlers

import (
	"errors"

	"github.com/anonto42/nano-midea/livefeed/internal/gateway"
	"github.com/anonto42/nano-midea/livefeed/internal/models"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame types of the timeline stream.
const (
	frameHello    = "hello"
	frameSnapshot = "snapshot"
	frameMutation = "mutation"
	frameError    = "error"
	frameAuth     = "auth"
	frameSignout  = "signout"
)

type helloFrame struct {
	Type    string            `json:"type"`
	Session string            `json:"session"`
	Viewer  *models.Principal `json:"viewer"`
}

type snapshotFrame struct {
	Type  string        `json:"type"`
	Posts []models.Post `json:"posts"`
}

type mutationFrame struct {
	Type      string     `json:"type"`
	Op        gateway.Op `json:"op"`
	ID        string     `json:"id"`
	Error     string     `json:"error,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
	Partial   bool       `json:"partial,omitempty"`
	Text      string     `json:"text,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// clientFrame is any frame sent by the client.
type clientFrame struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

func newMutationFrame(out gateway.Outcome, err error) mutationFrame {
	frame := mutationFrame{Type: frameMutation, Op: out.Op, ID: out.ID}
	if err != nil {
		frame.Error = err.Error()
		frame.Retryable = gateway.IsRetryable(err)
		frame.Text = out.Text
		var remote *gateway.RemoteError
		if errors.As(err, &remote) {
			frame.Partial = remote.Partial
		}
	}
	return frame
}
