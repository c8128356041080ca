package tcp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mocktide/internal/mapping"
	"mocktide/internal/report"
)

// RecvFailurePolicy decides what happens after a receive ends in an error
// outcome (mismatch, reset or I/O error).
type RecvFailurePolicy int

const (
	RecvContinue RecvFailurePolicy = iota // record and run the next action
	RecvAbort                             // record and stop the script
)

func (p RecvFailurePolicy) String() string {
	if p == RecvAbort {
		return "abort"
	}
	return "continue"
}

// ParseRecvFailurePolicy accepts "continue" or "abort".
func ParseRecvFailurePolicy(s string) (RecvFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return RecvContinue, nil
	case "abort":
		return RecvAbort, nil
	}
	return RecvContinue, fmt.Errorf("unknown recv failure policy %q", s)
}

// ResultRecorder receives one complete suite per connection.
type ResultRecorder interface {
	Record(suite report.SuiteResult) error
}

// ScriptHandler replays a script over one connection. It is created per
// connection and is not safe for concurrent use.
type ScriptHandler struct {
	conn     *Connection
	script   *mapping.Script
	shutdown *ShutdownSignal
	recorder ResultRecorder
	policy   RecvFailurePolicy
	logger   *slog.Logger
}

func NewScriptHandler(conn *Connection, script *mapping.Script, shutdown *ShutdownSignal, recorder ResultRecorder, policy RecvFailurePolicy, logger *slog.Logger) *ScriptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptHandler{
		conn:     conn,
		script:   script,
		shutdown: shutdown,
		recorder: recorder,
		policy:   policy,
		logger:   logger,
	}
}

// Run executes every action in order and hands the collected outcomes to the
// recorder exactly once, including when the script stops early. The returned
// error is non-nil only for fatal conditions: a failed send or a cancelled
// wait.
func (h *ScriptHandler) Run(ctx context.Context) error {
	suite := report.NewSuiteBuilder(h.script.Name, h.conn.ID, h.conn.RemoteAddr())
	defer h.flush(suite)

	for i, action := range h.script.Actions {
		if action.Wait > 0 {
			h.logger.Debug("action_waiting", "index", i, "action", action.String(), "wait", action.Wait)
			if err := sleep(ctx, action.Wait); err != nil {
				suite.MarkAborted()
				return fmt.Errorf("action %d (%s): wait interrupted: %w", i, action, err)
			}
		}

		switch action.Kind {
		case mapping.ActionSend:
			payload, _ := h.script.Message(action.Message)
			if err := h.conn.Send(payload); err != nil {
				suite.MarkAborted()
				return fmt.Errorf("action %d (%s): %w", i, action, err)
			}
			h.logger.Debug("message_sent", "message", action.Message, "bytes", hex.EncodeToString(payload))

		case mapping.ActionRecv:
			if stop := h.recv(action, suite); stop {
				suite.MarkAborted()
				return nil
			}

		case mapping.ActionShutdown:
			h.logger.Info("shutdown_action_executed", "index", i)
			h.shutdown.Raise("shutdown action from connection " + h.conn.ID)
			return nil

		default:
			panic(fmt.Sprintf("tcp: action %d has unknown kind %v", i, action.Kind))
		}
	}
	return nil
}

// recv runs one receive and records its outcome. It reports whether the
// remaining script must be skipped.
func (h *ScriptHandler) recv(action mapping.Action, suite *report.SuiteBuilder) bool {
	expected, _ := h.script.Message(action.Message)
	start := time.Now()
	_, received, err := h.conn.Recv(expected)
	elapsed := time.Since(start)

	switch {
	case err == nil && received:
		h.logger.Debug("message_matched", "message", action.Message, "bytes", hex.EncodeToString(expected))
		suite.Success(action.Message, elapsed)
		return false

	case err == nil:
		h.logger.Warn("message_not_received", "message", action.Message)
		suite.Failure(action.Message, elapsed, report.KindRecvError, "no message received")
		return false
	}

	h.logger.Warn("message_error", "message", action.Message, "error", err)
	suite.Error(action.Message, elapsed, report.KindMessageError, err.Error())

	if errors.Is(err, ErrBufferLimit) || h.policy == RecvAbort {
		return true
	}
	if errors.Is(err, ErrMismatch) {
		// realign on the next message boundary
		h.conn.Discard(len(expected))
	}
	return false
}

func (h *ScriptHandler) flush(suite *report.SuiteBuilder) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.Record(suite.Build()); err != nil {
		h.logger.Error("report_record_failed", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
