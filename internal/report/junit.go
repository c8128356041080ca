package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	ID        int             `xml:"id,attr"`
	Name      string          `xml:"name,attr"`
	Package   string          `xml:"package,attr"`
	Tests     int             `xml:"tests,attr"`
	Errors    int             `xml:"errors,attr"`
	Failures  int             `xml:"failures,attr"`
	Hostname  string          `xml:"hostname,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Time      string          `xml:"time,attr"`
	Props     []junitProperty `xml:"properties>property,omitempty"`
	TestCases []junitTestCase `xml:"testcase"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
}

type junitProblem struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"message,attr"`
}

func junitSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// WriteJUnit renders suites as a JUnit XML document.
func WriteJUnit(w io.Writer, suites []SuiteResult) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	doc := junitTestSuites{Suites: make([]junitTestSuite, 0, len(suites))}
	for i, s := range suites {
		failures, errors := s.Counts()
		js := junitTestSuite{
			ID:        i,
			Name:      s.Name,
			Package:   "testsuite/" + s.Name,
			Tests:     len(s.Cases),
			Errors:    errors,
			Failures:  failures,
			Hostname:  hostname,
			Timestamp: s.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Time:      junitSeconds(s.Duration),
			Props: []junitProperty{
				{Name: "connection_id", Value: s.ConnectionID},
				{Name: "remote_addr", Value: s.RemoteAddr},
				{Name: "aborted", Value: fmt.Sprintf("%t", s.Aborted)},
			},
		}
		for _, c := range s.Cases {
			tc := junitTestCase{Name: c.Name, Classname: s.Name, Time: junitSeconds(c.Elapsed)}
			switch c.Status {
			case StatusFailure:
				tc.Failure = &junitProblem{Type: c.Kind, Message: c.Message}
			case StatusError:
				tc.Error = &junitProblem{Type: c.Kind, Message: c.Message}
			}
			js.TestCases = append(js.TestCases, tc)
		}
		doc.Suites = append(doc.Suites, js)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode junit report: %w", err)
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// WriteJUnitFile atomically replaces path with the rendered report.
func WriteJUnitFile(path string, suites []SuiteResult) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".mocktide-report-*")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteJUnit(tmp, suites); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
