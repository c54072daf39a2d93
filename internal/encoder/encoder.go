// Package encoder provides the video and audio encode sessions. Each session
// wraps a backend process, accepts raw media, and emits encoded chunks in
// submission order through a callback.
package encoder

import (
	"errors"

	"github.com/MarcusHSmith/StoryLift/internal/models"
)

// State is the lifecycle state of an encode session.
type State string

// Session states.
const (
	StateUninitialized State = "uninitialized"
	StateConfigured    State = "configured"
	StateEncoding      State = "encoding"
	StateFlushing      State = "flushing"
	StateStopped       State = "stopped"
)

// Session errors.
var (
	ErrNotConfigured   = errors.New("session not configured")
	ErrNotEncoding     = errors.New("session not in encoding state")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrSessionStopped  = errors.New("session stopped")
	ErrConfigRejected  = errors.New("encoder rejected configuration")
	ErrPlanarMismatch  = errors.New("planar buffers disagree on sample count")
	ErrNoPlanarBuffers = errors.New("no planar buffers supplied")
)

// ChunkCallback receives encoded chunks asynchronously in emission order.
type ChunkCallback func(chunk models.EncodedChunk)

// ErrorCallback receives hard encoder errors. The session is already stopped
// when the callback fires.
type ErrorCallback func(err error)
