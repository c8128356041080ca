package report

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Publish(ctx context.Context, suite SuiteResult) error {
	args := m.Called(ctx, suite)
	return args.Error(0)
}

func (m *mockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestCollector_ConcurrentRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.xml")
	c := NewCollector(path)
	defer c.Close()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := NewSuiteBuilder("hello", fmt.Sprintf("conn-%d", i), "")
			b.Success("msg1", 0)
			b.Success("msg2", 0)
			assert.NoError(t, c.Record(b.Build()))
		}(i)
	}
	wg.Wait()

	suites := c.Suites()
	require.Len(t, suites, n)
	for _, s := range suites {
		// suites are appended whole, never interleaved
		assert.Len(t, s.Cases, 2)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc junitTestSuites
	require.NoError(t, xml.Unmarshal(data, &doc))
	assert.Len(t, doc.Suites, n)
}

func TestCollector_InMemoryOnly(t *testing.T) {
	c := NewCollector("")
	defer c.Close()

	require.NoError(t, c.Record(sampleSuite("hello")))
	require.NoError(t, c.WriteReport())
	assert.Len(t, c.Suites(), 1)
	assert.Empty(t, c.ReportPath())
}

func TestCollector_FeedsSinks(t *testing.T) {
	sink := new(mockSink)
	suite := sampleSuite("hello")
	sink.On("Publish", mock.Anything, suite).Return(nil).Once()
	sink.On("Close").Return(nil).Once()

	c := NewCollector("", sink)
	require.NoError(t, c.Record(suite))
	require.NoError(t, c.Close())

	sink.AssertExpectations(t)
}

func TestCollector_SinkFailureIsNotFatal(t *testing.T) {
	sink := new(mockSink)
	sink.On("Publish", mock.Anything, mock.Anything).Return(errors.New("unavailable"))
	sink.On("Close").Return(errors.New("close failed"))

	c := NewCollector("", sink)
	require.NoError(t, c.Record(sampleSuite("hello")))

	err := c.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock: close failed")
	assert.Len(t, c.Suites(), 1)
	sink.AssertNumberOfCalls(t, "Publish", 1)
}

func TestCollector_RecordAfterClose(t *testing.T) {
	sink := new(mockSink)
	sink.On("Close").Return(nil).Once()

	path := filepath.Join(t.TempDir(), "result.xml")
	c := NewCollector(path, sink)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "Close is idempotent")

	require.NoError(t, c.Record(sampleSuite("late")))
	_, err := os.Stat(path)
	assert.NoError(t, err)
	sink.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCollector_Subscribe(t *testing.T) {
	c := NewCollector("")
	ch, cancel := c.Subscribe(4)

	require.NoError(t, c.Record(sampleSuite("hello")))
	got := <-ch
	assert.Equal(t, "hello", got.Name)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open, "cancel closes the channel")

	// later suites do not reach a cancelled subscriber
	require.NoError(t, c.Record(sampleSuite("again")))
	require.NoError(t, c.Close())
}

func TestCollector_CloseEndsSubscriptions(t *testing.T) {
	c := NewCollector("")
	ch, cancel := c.Subscribe(1)
	defer cancel()

	require.NoError(t, c.Close())
	_, open := <-ch
	assert.False(t, open)

	late, lateCancel := c.Subscribe(1)
	defer lateCancel()
	_, open = <-late
	assert.False(t, open, "subscribing after Close yields a closed channel")
}
