package report

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSuite(name string) SuiteResult {
	b := NewSuiteBuilder(name, "conn-1", "127.0.0.1:50000")
	b.Success("msg1", 1500*time.Millisecond)
	b.Failure("msg2", 0, KindRecvError, "no message received")
	b.Error("msg3", 2*time.Millisecond, KindMessageError, "messages do not match: expected 48, received 49")
	return b.Build()
}

func TestSuiteResult_Counts(t *testing.T) {
	suite := sampleSuite("hello")
	failures, errs := suite.Counts()
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, errs)
	assert.False(t, suite.Passed())

	b := NewSuiteBuilder("ok", "conn-2", "")
	b.Success("msg1", 0)
	assert.True(t, b.Build().Passed())

	b.MarkAborted()
	assert.False(t, b.Build().Passed(), "aborted suites never pass")
}

func TestSuiteBuilder_BuildCopiesCases(t *testing.T) {
	b := NewSuiteBuilder("hello", "conn-1", "")
	b.Success("msg1", 0)
	first := b.Build()
	b.Success("msg2", 0)

	assert.Len(t, first.Cases, 1)
	assert.Equal(t, 2, b.Len())
	assert.NotEmpty(t, first.ID)
}

func TestWriteJUnit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJUnit(&buf, []SuiteResult{sampleSuite("hello"), sampleSuite("hello")}))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, xml.Header))
	assert.Contains(t, out, `package="testsuite/hello"`)
	assert.Contains(t, out, `time="1.500"`)

	var doc junitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Suites, 2)

	s := doc.Suites[0]
	assert.Equal(t, 0, s.ID)
	assert.Equal(t, 1, doc.Suites[1].ID)
	assert.Equal(t, "hello", s.Name)
	assert.Equal(t, 3, s.Tests)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 1, s.Errors)
	require.Len(t, s.TestCases, 3)

	assert.Nil(t, s.TestCases[0].Failure)
	assert.Nil(t, s.TestCases[0].Error)
	require.NotNil(t, s.TestCases[1].Failure)
	assert.Equal(t, KindRecvError, s.TestCases[1].Failure.Type)
	require.NotNil(t, s.TestCases[2].Error)
	assert.Equal(t, KindMessageError, s.TestCases[2].Error.Type)
	assert.Equal(t, "hello", s.TestCases[2].Classname)

	props := map[string]string{}
	for _, p := range s.Props {
		props[p.Name] = p.Value
	}
	assert.Equal(t, "conn-1", props["connection_id"])
	assert.Equal(t, "false", props["aborted"])
}

func TestWriteJUnit_NoSuites(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJUnit(&buf, nil))

	var doc junitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &doc))
	assert.Empty(t, doc.Suites)
}

func TestWriteJUnitFile_CreatesDirectoryAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "result.xml")

	require.NoError(t, WriteJUnitFile(path, []SuiteResult{sampleSuite("first")}))
	require.NoError(t, WriteJUnitFile(path, []SuiteResult{sampleSuite("second")}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `name="second"`)
	assert.NotContains(t, string(data), `name="first"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}
