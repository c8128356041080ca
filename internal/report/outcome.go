package report

import (
	"time"

	"github.com/google/uuid"
)

// Status classifies one executed Recv action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusError   Status = "error"
)

// Outcome kinds recorded for failed receives.
const (
	KindRecvError    = "recv_error"    // peer closed before the expected message arrived
	KindMessageError = "message_error" // bytes differ, peer reset, or I/O failure
)

// CaseResult is the outcome of a single scripted receive.
type CaseResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Kind    string        `json:"kind,omitempty"`
	Message string        `json:"message,omitempty"`
}

// SuiteResult holds every outcome one connection produced for its script.
type SuiteResult struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	ConnectionID string        `json:"connection_id"`
	RemoteAddr   string        `json:"remote_addr"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Aborted      bool          `json:"aborted"`
	Cases        []CaseResult  `json:"cases"`
}

// Counts returns the number of failures and errors in the suite.
func (s SuiteResult) Counts() (failures, errors int) {
	for _, c := range s.Cases {
		switch c.Status {
		case StatusFailure:
			failures++
		case StatusError:
			errors++
		}
	}
	return failures, errors
}

// Passed reports whether every case succeeded and the script was not aborted.
func (s SuiteResult) Passed() bool {
	f, e := s.Counts()
	return f == 0 && e == 0 && !s.Aborted
}

// SuiteBuilder accumulates outcomes for one connection. It is owned by a
// single goroutine and is not safe for concurrent use.
type SuiteBuilder struct {
	suite SuiteResult
}

func NewSuiteBuilder(name, connectionID, remoteAddr string) *SuiteBuilder {
	return &SuiteBuilder{suite: SuiteResult{
		ID:           uuid.NewString(),
		Name:         name,
		ConnectionID: connectionID,
		RemoteAddr:   remoteAddr,
		StartedAt:    time.Now(),
	}}
}

// Success records a matched receive.
func (b *SuiteBuilder) Success(name string, elapsed time.Duration) {
	b.suite.Cases = append(b.suite.Cases, CaseResult{Name: name, Status: StatusSuccess, Elapsed: elapsed})
}

// Failure records a receive whose message never arrived.
func (b *SuiteBuilder) Failure(name string, elapsed time.Duration, kind, message string) {
	b.suite.Cases = append(b.suite.Cases, CaseResult{Name: name, Status: StatusFailure, Elapsed: elapsed, Kind: kind, Message: message})
}

// Error records a receive that saw corrupt data or an I/O error.
func (b *SuiteBuilder) Error(name string, elapsed time.Duration, kind, message string) {
	b.suite.Cases = append(b.suite.Cases, CaseResult{Name: name, Status: StatusError, Elapsed: elapsed, Kind: kind, Message: message})
}

// MarkAborted flags the suite as stopped before the script was exhausted.
func (b *SuiteBuilder) MarkAborted() {
	b.suite.Aborted = true
}

// Len returns the number of recorded cases.
func (b *SuiteBuilder) Len() int {
	return len(b.suite.Cases)
}

// Build finalises the suite duration and returns a copy of the result.
func (b *SuiteBuilder) Build() SuiteResult {
	s := b.suite
	s.Duration = time.Since(s.StartedAt)
	s.Cases = append([]CaseResult(nil), b.suite.Cases...)
	return s
}
