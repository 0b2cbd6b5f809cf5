// Package ninedoor defines the interface the console uses to reach the
// co-resident worker's file-like namespace, the way the teacher's
// internal/interfaces package isolates the ublk Backend contract from its
// concrete implementations.
package ninedoor

import "github.com/cohesix/queenroot/internal/logging"

// Bridge is the NineDoor collaborator consumed by internal/console for
// tail/cat/ls/echo/log/spawn/kill. It is an external system from this
// module's point of view: the root task treats it as opaque IPC plumbing
// and never implements its other side.
type Bridge interface {
	// Tail arms a streaming read of path starting at the byte offset the
	// caller last left off at (0 for a never-read path), returning only
	// the lines beyond that offset. The audit logger receives any
	// bridge-side diagnostic lines.
	Tail(path string, offset uint64, audit *logging.Logger) ([]string, error)

	// Cat returns a snapshot of path's current contents as discrete
	// lines.
	Cat(path string) ([]string, error)

	// List returns directory entries under path.
	List(path string) ([]string, error)

	// Echo writes payload to path.
	Echo(path, payload string) error

	// LogStream arms the queen.log tail stream.
	LogStream(audit *logging.Logger) error

	// Spawn submits a JSON worker-spawn payload.
	Spawn(payload string, audit *logging.Logger) error

	// Kill requests termination of the worker identified by id.
	Kill(id string, audit *logging.Logger) error
}

// Error wraps a bridge-side failure with the verb that triggered it, the
// way event/mod.rs's CommandDispatchError::Bridge carries verb + source.
type Error struct {
	Verb string
	Err  error
}

func (e *Error) Error() string { return e.Verb + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// WrapError associates a bridge failure with the console verb that caused
// it, for the audit line emitted by internal/console.
func WrapError(verb string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Verb: verb, Err: err}
}
