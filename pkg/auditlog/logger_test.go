package auditlog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
	uri    string
	tables int
	target *Target
	logger *Logger
	clock  time.Time
	ctx    context.Context
}

func (s *LoggerTestSuite) SetupTest() {
	target, err := Open(s.uri)
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.clock = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	s.target = target
	// Tests may share a database, each one gets its own table
	s.tables++
	s.logger = New(target, fmt.Sprintf("collector_log_%d", s.tables))
	s.logger.now = s.now
}

func (s *LoggerTestSuite) TearDownTest() {
	s.NoError(s.target.Close())
}

func (s *LoggerTestSuite) now() time.Time {
	return s.clock
}

func (s *LoggerTestSuite) advance(d time.Duration) {
	s.clock = s.clock.Add(d)
}

func (s *LoggerTestSuite) TestStartDone() {
	id, err := s.logger.Start(s.ctx, 7)
	s.Require().NoError(err)

	record, err := s.logger.Run(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(Started, record.Status)
	s.Equal(int64(7), record.ProcessId)
	s.True(s.clock.Equal(record.StartTimestamp))

	s.advance(time.Second)
	s.NoError(s.logger.SetStatus(s.ctx, id, Collecting))
	s.NoError(s.logger.SetStatus(s.ctx, id, Processing))

	data := time.Date(2024, 3, 10, 11, 50, 0, 0, time.UTC)
	s.advance(time.Second)
	s.NoError(s.logger.Done(s.ctx, data, id))

	record, err = s.logger.Run(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(Done, record.Status)
	s.Require().NotNil(record.DataTimestamp)
	s.True(data.Equal(*record.DataTimestamp))
	s.True(s.clock.Equal(record.LastProcessTimestamp))

	ts, ok, err := s.logger.LastSuccessTimestamp(s.ctx, 7)
	s.NoError(err)
	s.True(ok)
	s.True(record.StartTimestamp.Equal(ts))

	ts, ok, err = s.logger.LastDataTimestamp(s.ctx, 7)
	s.NoError(err)
	s.True(ok)
	s.True(data.Equal(ts))
}

func (s *LoggerTestSuite) TestNoSuccess() {
	_, ok, err := s.logger.LastSuccessTimestamp(s.ctx, 99)
	s.NoError(err)
	s.False(ok)

	_, ok, err = s.logger.LastDataTimestamp(s.ctx, 99)
	s.NoError(err)
	s.False(ok)
}

func (s *LoggerTestSuite) TestDoneWithoutData() {
	id, err := s.logger.Start(s.ctx, 3)
	s.Require().NoError(err)
	s.NoError(s.logger.Done(s.ctx, time.Time{}, id))

	_, ok, err := s.logger.LastSuccessTimestamp(s.ctx, 3)
	s.NoError(err)
	s.True(ok)

	_, ok, err = s.logger.LastDataTimestamp(s.ctx, 3)
	s.NoError(err)
	s.False(ok)
}

func (s *LoggerTestSuite) TestDataTimestampSurvivesEmptyRun() {
	data := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	first, err := s.logger.Start(s.ctx, 7)
	s.Require().NoError(err)
	s.NoError(s.logger.Done(s.ctx, data, first))

	s.advance(time.Hour)
	second, err := s.logger.Start(s.ctx, 7)
	s.Require().NoError(err)
	s.NoError(s.logger.Done(s.ctx, time.Time{}, second))

	s.advance(time.Hour)
	third, err := s.logger.Start(s.ctx, 7)
	s.Require().NoError(err)
	s.NoError(s.logger.Error(s.ctx, "provider offline", third))

	ts, ok, err := s.logger.LastDataTimestamp(s.ctx, 7)
	s.NoError(err)
	s.True(ok)
	s.True(data.Equal(ts), "got %s", ts)

	ts, ok, err = s.logger.LastSuccessTimestamp(s.ctx, 7)
	s.NoError(err)
	s.True(ok)
	s.True(s.clock.Add(-time.Hour).Equal(ts))
}

func (s *LoggerTestSuite) TestErrorKeepsLastSuccess() {
	first, err := s.logger.Start(s.ctx, 5)
	s.Require().NoError(err)
	s.NoError(s.logger.Done(s.ctx, s.clock, first))
	start := s.clock

	s.advance(time.Minute)
	second, err := s.logger.Start(s.ctx, 5)
	s.Require().NoError(err)
	s.NoError(s.logger.Log(s.ctx, WarningSeverity, "slow provider", second))
	s.NoError(s.logger.Error(s.ctx, "connection refused", second))

	record, err := s.logger.Run(s.ctx, second)
	s.Require().NoError(err)
	s.Equal(Failed, record.Status)
	s.Require().Len(record.Messages, 2)
	s.Equal(WarningSeverity, record.Messages[0].Severity)
	s.Equal(ErrorSeverity, record.Messages[1].Severity)
	s.Equal("connection refused", record.Messages[1].Description)

	ts, ok, err := s.logger.LastSuccessTimestamp(s.ctx, 5)
	s.NoError(err)
	s.True(ok)
	s.True(start.Equal(ts))
}

func (s *LoggerTestSuite) TestInvalidTransitions() {
	id, err := s.logger.Start(s.ctx, 1)
	s.Require().NoError(err)
	s.NoError(s.logger.Done(s.ctx, time.Time{}, id))

	s.ErrorIs(s.logger.Done(s.ctx, time.Time{}, id), ErrInvalidTransition)
	s.ErrorIs(s.logger.Error(s.ctx, "late", id), ErrInvalidTransition)
	s.ErrorIs(s.logger.SetStatus(s.ctx, id, Processing), ErrInvalidTransition)

	other, err := s.logger.Start(s.ctx, 1)
	s.Require().NoError(err)
	s.ErrorIs(s.logger.SetStatus(s.ctx, other, Done), ErrInvalidTransition)

	s.ErrorIs(s.logger.Done(s.ctx, time.Time{}, 12345), ErrNotFound)
	s.ErrorIs(s.logger.Log(s.ctx, InfoSeverity, "ghost", 12345), ErrNotFound)
	_, err = s.logger.Run(s.ctx, 12345)
	s.ErrorIs(err, ErrNotFound)
}

func (s *LoggerTestSuite) TestLatestStartWins() {
	late, err := s.logger.Start(s.ctx, 2)
	s.Require().NoError(err)
	lateStart := s.clock

	s.advance(-time.Hour)
	early, err := s.logger.Start(s.ctx, 2)
	s.Require().NoError(err)

	s.NoError(s.logger.Done(s.ctx, time.Time{}, late))
	s.NoError(s.logger.Done(s.ctx, time.Time{}, early))

	ts, ok, err := s.logger.LastSuccessTimestamp(s.ctx, 2)
	s.NoError(err)
	s.True(ok)
	s.True(lateStart.Equal(ts))
}

func (s *LoggerTestSuite) TestClone() {
	clone := s.logger.Clone()
	s.Equal(s.logger.Table(), clone.Table())
	s.Same(s.logger.Target(), clone.Target())

	id, err := clone.Start(s.ctx, 4)
	s.Require().NoError(err)
	s.NoError(clone.Done(s.ctx, time.Time{}, id))

	_, ok, err := s.logger.LastSuccessTimestamp(s.ctx, 4)
	s.NoError(err)
	s.True(ok)
}

func (s *LoggerTestSuite) TestRuns() {
	for i := 0; i < 6; i++ {
		id, err := s.logger.Start(s.ctx, int64(i%2))
		s.Require().NoError(err)
		s.NoError(s.logger.Log(s.ctx, InfoSeverity, "hello", id))
		s.advance(time.Minute)
	}

	runs, err := s.logger.Runs(s.ctx, Filter{})
	s.Require().NoError(err)
	s.Len(runs, 6)
	for i := 1; i < len(runs); i++ {
		s.Less(runs[i-1].RegisterId, runs[i].RegisterId)
	}
	s.Len(runs[0].Messages, 1)

	runs, err = s.logger.Runs(s.ctx, Filter{ProcessIds: []int64{1}})
	s.Require().NoError(err)
	s.Len(runs, 3)

	runs, err = s.logger.Runs(s.ctx, Filter{Limit: 2})
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Less(runs[0].RegisterId, runs[1].RegisterId)

	begin := time.Date(2024, 3, 10, 12, 1, 0, 0, time.UTC)
	runs, err = s.logger.Runs(s.ctx, Filter{Begin: begin, End: begin.Add(2 * time.Minute)})
	s.Require().NoError(err)
	s.Len(runs, 2)
}

func (s *LoggerTestSuite) TestNoTable() {
	logger := New(s.target, "")
	_, err := logger.Start(s.ctx, 1)
	s.ErrorIs(err, ErrNoTable)

	logger = New(s.target, "drop table;")
	_, err = logger.Start(s.ctx, 1)
	s.ErrorIs(err, ErrInvalidTable)
}

func (s *LoggerTestSuite) TestConcurrentRuns() {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(pid int64) {
			defer wg.Done()
			logger := s.logger.Clone()
			for j := 0; j < 5; j++ {
				id, err := logger.Start(s.ctx, pid)
				if !s.NoError(err) {
					return
				}
				s.NoError(logger.Log(s.ctx, DebugSeverity, "step", id))
				s.NoError(logger.Done(s.ctx, time.Time{}, id))
			}
		}(int64(i))
	}
	wg.Wait()

	runs, err := s.logger.Runs(s.ctx, Filter{})
	s.NoError(err)
	s.Len(runs, 40)
}

func TestMemoryLogger(t *testing.T) {
	suite.Run(t, &LoggerTestSuite{uri: "memory://"})
}

func TestSqliteLogger(t *testing.T) {
	suite.Run(t, &LoggerTestSuite{uri: "sqlite://:memory:"})
}

func TestFileLogger(t *testing.T) {
	suite.Run(t, &LoggerTestSuite{uri: "file://" + t.TempDir()})
}

func TestFsStorePersistence(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	store, err := NewFsStore(fs)
	require.NoError(t, err)

	first, err := store.Insert(ctx, "analysis_log", 9, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "analysis_log", first, Message{Severity: InfoSeverity, Description: "kept"}))
	require.NoError(t, store.Transition(ctx, "analysis_log", first, Done, nonTerminal, time.Now(), nil))
	require.NoError(t, store.Close())

	store, err = NewFsStore(fs)
	require.NoError(t, err)
	defer store.Close()

	record, err := store.Get(ctx, "analysis_log", first)
	require.NoError(t, err)
	assert.Equal(t, Done, record.Status)
	require.Len(t, record.Messages, 1)
	assert.Equal(t, "kept", record.Messages[0].Description)

	second, err := store.Insert(ctx, "analysis_log", 9, time.Now())
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestOpenStore(t *testing.T) {
	for _, uri := range []string{"", "memory://", "sqlite://:memory:", "file://" + t.TempDir()} {
		store, err := OpenStore(uri)
		if assert.NoError(t, err, uri) {
			assert.NoError(t, store.Close())
		}
	}

	_, err := OpenStore("ftp://somewhere")
	assert.Error(t, err)

	_, err = OpenStore("file://")
	assert.Error(t, err)

	_, err = OpenStore("sqlite://")
	assert.Error(t, err)
}
