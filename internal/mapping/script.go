package mapping

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind identifies what a scripted step does on the wire.
type ActionKind int

const (
	ActionUnknown ActionKind = iota // placeholder, never executed
	ActionSend
	ActionRecv
	ActionShutdown
)

func (k ActionKind) String() string {
	switch k {
	case ActionSend:
		return "Send"
	case ActionRecv:
		return "Recv"
	case ActionShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// ParseActionKind maps a mapping-file action name to its kind.
// Names are matched case-insensitively; anything else is ActionUnknown.
func ParseActionKind(s string) ActionKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "send":
		return ActionSend
	case "recv":
		return ActionRecv
	case "shutdown":
		return ActionShutdown
	default:
		return ActionUnknown
	}
}

// Action is one step of a script. Wait is applied before the step runs.
type Action struct {
	Message string
	Kind    ActionKind
	Wait    time.Duration
}

func (a Action) String() string {
	if a.Message == "" {
		return a.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", a.Kind, a.Message)
}

// Script is the immutable, shared model every connection replays.
// Nothing mutates a Script after Load returns, so it is safe to share the
// same pointer across connection goroutines without locking.
type Script struct {
	Name     string
	Messages map[string][]byte
	Actions  []Action
}

// Message returns the payload registered under name.
func (s *Script) Message(name string) ([]byte, bool) {
	msg, ok := s.Messages[name]
	return msg, ok
}

// ValidationError reports the first action that breaks the script invariants.
type ValidationError struct {
	Index  int
	Action Action
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("action %d (%s): %s", e.Index, e.Action, e.Reason)
}

// Validate checks that every Send/Recv references a known, non-empty message
// and that no action is of an unknown kind.
func (s *Script) Validate() error {
	for i, a := range s.Actions {
		if a.Wait < 0 {
			return &ValidationError{Index: i, Action: a, Reason: "wait must not be negative"}
		}
		switch a.Kind {
		case ActionShutdown:
			continue
		case ActionSend, ActionRecv:
			if a.Message == "" {
				return &ValidationError{Index: i, Action: a, Reason: "message name is required"}
			}
			if _, ok := s.Messages[a.Message]; !ok {
				return &ValidationError{Index: i, Action: a, Reason: fmt.Sprintf("message %q is not defined", a.Message)}
			}
		default:
			return &ValidationError{Index: i, Action: a, Reason: "unknown action kind"}
		}
	}
	return nil
}
