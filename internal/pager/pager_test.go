package pager

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/joeandaverde/heapdb/internal/errs"
	"github.com/joeandaverde/heapdb/internal/storage"
)

const testPageSize = 64

var (
	p1 = storage.PageID{FileIdx: 0, PageIdx: 1}
	p2 = storage.PageID{FileIdx: 0, PageIdx: 2}
	p3 = storage.PageID{FileIdx: 0, PageIdx: 3}
	p4 = storage.PageID{FileIdx: 1, PageIdx: 0}
)

// flakyStore fails reads or writes on demand.
type flakyStore struct {
	*storage.MemoryFile
	failRead  bool
	failWrite bool
}

func (s *flakyStore) ReadPage(id storage.PageID, buf []byte) error {
	if s.failRead {
		return errs.IO("read page", errors.New("disk on fire"))
	}
	return s.MemoryFile.ReadPage(id, buf)
}

func (s *flakyStore) WritePage(id storage.PageID, buf []byte) error {
	if s.failWrite {
		return errs.IO("write page", errors.New("disk on fire"))
	}
	return s.MemoryFile.WritePage(id, buf)
}

type PagerTestSuite struct {
	suite.Suite
	store   *flakyStore
	metrics *Metrics
	pool    *BufferPool
}

func (s *PagerTestSuite) SetupTest() {
	s.store = &flakyStore{MemoryFile: storage.NewMemoryFile(testPageSize)}
	s.pool = s.newPool(2, LRU)
}

func TestPagerTestSuite(t *testing.T) {
	suite.Run(t, &PagerTestSuite{})
}

func (s *PagerTestSuite) newPool(frames int, policy Policy) *BufferPool {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	m, err := NewMetrics(prometheus.NewRegistry())
	s.Require().NoError(err)
	s.metrics = m

	pool, err := NewBufferPool(log, s.store, Options{Frames: frames, Policy: policy, Metrics: m})
	s.Require().NoError(err)
	return pool
}

func (s *PagerTestSuite) fetch(id storage.PageID) *PageGuard {
	g, err := s.pool.FetchPage(id)
	s.Require().NoError(err)
	return g
}

func (s *PagerTestSuite) fetchRelease(id storage.PageID) {
	s.Require().NoError(s.fetch(id).Release())
}

func (s *PagerTestSuite) TestNewBufferPool_RejectsNoFrames() {
	_, err := NewBufferPool(logrus.New(), s.store, Options{Frames: 0})
	s.True(errs.IsProtocol(err))
}

func (s *PagerTestSuite) TestFetchPage_ZeroOnFirstFetch() {
	g := s.fetch(p1)
	s.Equal(p1, g.ID())
	s.Equal(make([]byte, testPageSize), g.Data())
	s.NoError(g.Release())
}

func (s *PagerTestSuite) TestFetchPage_HitSharesFrame() {
	a := s.fetch(p1)
	b := s.fetch(p1)

	a.Data()[0] = 0xAB
	s.Equal(byte(0xAB), b.Data()[0])
	s.Equal(2, s.pool.PinCount(p1))
	s.Equal(1, s.store.Reads)

	s.NoError(a.Release())
	s.NoError(b.Release())

	s.Equal(1.0, testutil.ToFloat64(s.metrics.Hits))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Misses))
}

func (s *PagerTestSuite) TestPinReleaseBalance() {
	var guards []*PageGuard
	for i := 0; i < 5; i++ {
		guards = append(guards, s.fetch(p1))
	}
	s.Equal(5, s.pool.PinCount(p1))

	for _, g := range guards {
		s.NoError(g.Release())
	}
	s.Equal(0, s.pool.PinCount(p1))

	// evictable again
	s.fetchRelease(p2)
	s.fetchRelease(p3)
	s.False(s.pool.Resident(p1))
}

func (s *PagerTestSuite) TestEviction_LRU() {
	s.fetchRelease(p1)
	s.fetchRelease(p2)
	s.Equal([]storage.PageID{p2, p1}, s.pool.Order())

	s.fetchRelease(p3)

	s.Equal([]storage.PageID{p3, p2}, s.pool.Order())
	s.False(s.pool.Resident(p1))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Evictions))
}

func (s *PagerTestSuite) TestEviction_MRU() {
	s.pool = s.newPool(2, MRU)

	s.fetchRelease(p1)
	s.fetchRelease(p2)
	s.Equal([]storage.PageID{p2, p1}, s.pool.Order())

	s.fetchRelease(p3)

	s.Equal([]storage.PageID{p3, p1}, s.pool.Order())
	s.False(s.pool.Resident(p2))
	s.True(s.pool.Resident(p1))
}

func (s *PagerTestSuite) TestEviction_SkipsPinnedFrames() {
	held := s.fetch(p1)
	s.fetchRelease(p2)

	// p1 is the tail but pinned, so p2 goes
	s.fetchRelease(p3)
	s.True(s.pool.Resident(p1))
	s.False(s.pool.Resident(p2))

	s.NoError(held.Release())
}

func (s *PagerTestSuite) TestEviction_PinnedDirtyIsNotEligible() {
	a := s.fetch(p1)
	a.MarkDirty()
	b := s.fetch(p2)
	b.MarkDirty()

	_, err := s.pool.FetchPage(p3)
	s.True(errs.IsProtocol(err))
	s.True(errors.Is(err, ErrPoolExhausted))
	s.Equal(0, s.store.Writes)

	s.NoError(a.Release())
	s.NoError(b.Release())
}

func (s *PagerTestSuite) TestEviction_WritesBackDirtyVictim() {
	g := s.fetch(p1)
	copy(g.Data(), "dirty bytes")
	g.MarkDirty()
	s.NoError(g.Release())

	s.fetchRelease(p2)
	s.fetchRelease(p3)

	s.False(s.pool.Resident(p1))
	s.Equal(1, s.store.Writes)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.WriteBacks))

	g = s.fetch(p1)
	s.True(bytes.HasPrefix(g.Data(), []byte("dirty bytes")))
	s.False(s.pool.IsDirty(p1))
	s.NoError(g.Release())
}

func (s *PagerTestSuite) TestEviction_CleanVictimIsNotWritten() {
	s.fetchRelease(p1)
	s.fetchRelease(p2)
	s.fetchRelease(p3)
	s.Equal(0, s.store.Writes)
}

func (s *PagerTestSuite) TestEviction_FailedWriteBackKeepsVictim() {
	g := s.fetch(p1)
	g.MarkDirty()
	s.NoError(g.Release())
	s.fetchRelease(p2)

	s.store.failWrite = true
	_, err := s.pool.FetchPage(p3)
	s.True(errs.IsIO(err))

	s.True(s.pool.Resident(p1))
	s.False(s.pool.Resident(p3))
}

func (s *PagerTestSuite) TestFetchPage_FailedReadLeavesFrameEmpty() {
	s.store.failRead = true
	_, err := s.pool.FetchPage(p1)
	s.True(errs.IsIO(err))
	s.False(s.pool.Resident(p1))
	s.Empty(s.pool.Order())

	s.store.failRead = false
	s.fetchRelease(p1)
	s.True(s.pool.Resident(p1))
}

func (s *PagerTestSuite) TestFetchPage_InvalidID() {
	_, err := s.pool.FetchPage(storage.InvalidPageID)
	s.True(errs.IsProtocol(err))
}

func (s *PagerTestSuite) TestRelease_DirtyIsSticky() {
	g := s.fetch(p1)
	g.MarkDirty()
	s.NoError(g.Release())

	s.fetchRelease(p1)
}

func (s *PagerTestSuite) TestRelease_Twice() {
	g := s.fetch(p1)
	s.NoError(g.Release())
	s.Nil(g.Data())

	err := g.Release()
	s.True(errs.IsProtocol(err))
	s.Equal(0, s.pool.PinCount(p1))
}

func (s *PagerTestSuite) TestReleasePage_Underflow() {
	s.fetchRelease(p1)

	s.True(errs.IsProtocol(s.pool.ReleasePage(p1, false)))
	s.Equal(0, s.pool.PinCount(p1))

	s.True(errs.IsProtocol(s.pool.ReleasePage(p4, true)))
}

func (s *PagerTestSuite) TestFlushAll() {
	g := s.fetch(p1)
	copy(g.Data(), "persist me")
	g.MarkDirty()
	s.NoError(g.Release())
	s.fetchRelease(p2)

	s.NoError(s.pool.FlushAll())

	s.Equal(1, s.store.Writes)
	s.False(s.pool.Resident(p1))
	s.False(s.pool.Resident(p2))
	s.Empty(s.pool.Order())

	buf := make([]byte, testPageSize)
	s.NoError(s.store.MemoryFile.ReadPage(p1, buf))
	s.True(bytes.HasPrefix(buf, []byte("persist me")))

	// the pool is usable afterwards
	g = s.fetch(p1)
	s.True(bytes.HasPrefix(g.Data(), []byte("persist me")))
	s.NoError(g.Release())
}

func (s *PagerTestSuite) skipInDebug() {
	if errs.Debug {
		s.T().Skip("consistency violations panic in debug builds")
	}
}

func (s *PagerTestSuite) TestFlushAll_RefusesWhilePinned() {
	s.skipInDebug()
	g := s.fetch(p1)
	g.MarkDirty()
	s.fetchRelease(p2)

	err := s.pool.FlushAll()
	s.True(errs.IsConsistency(err))
	s.True(s.pool.Resident(p1))
	s.True(s.pool.Resident(p2))
	s.Equal(0, s.store.Writes)

	s.NoError(g.Release())
	s.NoError(s.pool.FlushAll())
	s.Equal(1, s.store.Writes)
}

func (s *PagerTestSuite) TestDiscard_DropsDirtyFrame() {
	g := s.fetch(p1)
	copy(g.Data(), "gone")
	g.MarkDirty()
	s.NoError(g.Release())

	s.NoError(s.pool.Discard(p1))
	s.False(s.pool.Resident(p1))
	s.Equal(0, s.store.Writes)

	// the freed frame is taken before any resident one
	s.fetchRelease(p2)
	s.fetchRelease(p3)
	s.True(s.pool.Resident(p2))
	s.True(s.pool.Resident(p3))

	g = s.fetch(p1)
	s.Equal(make([]byte, testPageSize), g.Data())
	s.NoError(g.Release())

	s.NoError(s.pool.Discard(p4))
}

func (s *PagerTestSuite) TestDiscard_RefusesPinned() {
	s.skipInDebug()

	g := s.fetch(p1)
	g.MarkDirty()

	err := s.pool.Discard(p1)
	s.True(errs.IsConsistency(err))
	s.True(s.pool.Resident(p1))
	s.Equal(1, s.pool.PinCount(p1))

	s.NoError(g.Release())
	s.NoError(s.pool.Discard(p1))
}

func (s *PagerTestSuite) TestSetPolicy() {
	s.fetchRelease(p1)
	s.fetchRelease(p2)

	s.NoError(s.pool.SetPolicy(MRU))
	s.Equal(MRU, s.pool.Policy())

	s.fetchRelease(p3)
	s.True(s.pool.Resident(p1))
	s.False(s.pool.Resident(p2))

	s.True(errs.IsProtocol(s.pool.SetPolicy(Policy(7))))
}

func (s *PagerTestSuite) TestOrder_PromotesOnHit() {
	s.pool = s.newPool(3, LRU)

	s.fetchRelease(p1)
	s.fetchRelease(p2)
	s.fetchRelease(p3)
	s.Equal([]storage.PageID{p3, p2, p1}, s.pool.Order())

	s.fetchRelease(p1)
	s.Equal([]storage.PageID{p1, p3, p2}, s.pool.Order())

	s.fetchRelease(p4)
	s.Equal([]storage.PageID{p4, p1, p3}, s.pool.Order())
	s.Equal(3, s.pool.Capacity())
}

func TestPolicy_Text(t *testing.T) {
	var p Policy
	for _, tc := range []struct {
		in   string
		want Policy
	}{
		{"LRU", LRU},
		{"mru", MRU},
		{" Lru ", LRU},
	} {
		if err := p.UnmarshalText([]byte(tc.in)); err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if p != tc.want {
			t.Fatalf("%q: got %s want %s", tc.in, p, tc.want)
		}
	}

	if err := p.UnmarshalText([]byte("FIFO")); err == nil {
		t.Fatal("expected error for FIFO")
	}

	text, err := MRU.MarshalText()
	if err != nil || string(text) != "MRU" {
		t.Fatalf("got %q, %v", text, err)
	}
}

func TestNewMetrics_RegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	if err != nil {
		t.Fatal(err)
	}

	if n, err := testutil.GatherAndCount(reg); err != nil || n != 4 {
		t.Fatalf("got %d metrics, %v", n, err)
	}

	if _, err := NewMetrics(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}
