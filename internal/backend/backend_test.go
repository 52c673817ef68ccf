package backend

import (
	"database/sql"
	"fmt"
	"path"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/joeandaverde/heapdb/internal/heap"
	"github.com/joeandaverde/heapdb/internal/pager"
	"github.com/joeandaverde/heapdb/internal/record"
)

var testColumns = []record.Field{
	{Name: "id", Type: record.Int},
	{Name: "score", Type: record.Real},
	{Name: "code", Type: record.FixedString, Len: 8},
	{Name: "note", Type: record.Varchar},
}

type BackendTestSuite struct {
	suite.Suite
	tempDir string
	logger  *logrus.Logger
	config  Config
	backend *Backend
	sqlite  *sql.DB
}

func (s *BackendTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()

	s.logger = logrus.New()
	s.logger.SetLevel(logrus.DebugLevel)

	s.config = Config{
		DataDir:     s.tempDir,
		PageSize:    256,
		MaxFileSize: 256 * 16,
		BufferCount: 3,
		Policy:      pager.LRU,
		LogLevel:    logrus.DebugLevel,
	}
	s.start()

	db, err := sql.Open("sqlite3", path.Join(s.tempDir, "heapdb-test-sqlite.db"))
	s.Require().NoError(err)
	s.sqlite = db
}

func (s *BackendTestSuite) TearDownTest() {
	s.NoError(s.sqlite.Close())
}

func TestBackendTestSuite(t *testing.T) {
	suite.Run(t, new(BackendTestSuite))
}

func (s *BackendTestSuite) start() {
	dbEngine, err := Start(s.logger, s.config)
	s.Require().NoError(err)

	b, err := NewBackend(s.logger, dbEngine)
	s.Require().NoError(err)
	s.backend = b
}

func (s *BackendTestSuite) restart() {
	s.Require().NoError(s.backend.Close())
	s.start()
}

func (s *BackendTestSuite) assertQuery(query string, args ...interface{}) {
	_, err := s.sqlite.Exec(query, args...)
	s.Require().NoError(err)
}

func (s *BackendTestSuite) createBoth(table string) {
	_, err := s.backend.CreateTable(table, testColumns...)
	s.Require().NoError(err)
	s.assertQuery(fmt.Sprintf("create table %s (id integer, score real, code text, note text)", table))
}

func (s *BackendTestSuite) insertBoth(table string, id int, score float64, code, note string) {
	_, err := s.backend.Insert(table, id, score, code, note)
	s.Require().NoError(err)
	s.assertQuery(fmt.Sprintf("insert into %s (id, score, code, note) values (?, ?, ?, ?)", table), id, score, code, note)
}

// sqliteRows reads the table back from SQLite in insertion order, typed the
// way Scan types values.
func (s *BackendTestSuite) sqliteRows(table string) [][]interface{} {
	rows, err := s.sqlite.Query(fmt.Sprintf("select id, score, code, note from %s order by rowid", table))
	s.Require().NoError(err)
	defer rows.Close()

	var out [][]interface{}
	for rows.Next() {
		var (
			id         int64
			score      float64
			code, note string
		)
		s.Require().NoError(rows.Scan(&id, &score, &code, &note))
		out = append(out, []interface{}{int32(id), float32(score), code, note})
	}
	s.Require().NoError(rows.Err())
	return out
}

func (s *BackendTestSuite) scan(table string) [][]interface{} {
	rows, err := s.backend.Scan(table)
	s.Require().NoError(err)

	var out [][]interface{}
	for _, r := range rows {
		out = append(out, r.Data)
	}
	return out
}

func (s *BackendTestSuite) fill(table string, n int) {
	for i := 0; i < n; i++ {
		s.insertBoth(table, i, float64(i)/4, fmt.Sprintf("c%03d", i%1000), fmt.Sprintf("note number %d/%d", i, i*i))
	}
}

func (s *BackendTestSuite) TestSimple() {
	s.createBoth("foo")
	s.insertBoth("foo", 1, 2.5, "bar", "hello")

	rows, err := s.backend.Scan("foo")
	s.NoError(err)
	s.Require().Len(rows, 1)
	s.Equal([]interface{}{int32(1), float32(2.5), "bar", "hello"}, rows[0].Data)
}

func (s *BackendTestSuite) TestSimple_NoData() {
	s.createBoth("foo")

	rows, err := s.backend.Scan("foo")
	s.NoError(err)
	s.Empty(rows)
}

func (s *BackendTestSuite) TestScan_MatchesSQLite() {
	s.createBoth("foo")
	s.fill("foo", 300)

	s.Equal(s.sqliteRows("foo"), s.scan("foo"))

	pages, err := s.backend.Engine().Heap().HeaderPages(s.mustTable("foo"))
	s.NoError(err)
	s.Greater(len(pages), 1)
}

func (s *BackendTestSuite) TestScan_MatchesSQLiteAfterRestart() {
	s.createBoth("foo")
	s.createBoth("bar")
	s.fill("foo", 120)
	s.insertBoth("bar", 7, 0.5, "x", "")

	s.restart()

	s.Equal(s.sqliteRows("foo"), s.scan("foo"))
	s.Equal(s.sqliteRows("bar"), s.scan("bar"))

	// inserts keep working on the reloaded header chain
	s.insertBoth("foo", 1000, 1, "late", "after restart")
	s.Equal(s.sqliteRows("foo"), s.scan("foo"))

	// new tables get fresh OIDs
	rel, err := s.backend.CreateTable("baz", testColumns...)
	s.NoError(err)
	s.Equal(uint64(2), rel.OID)
}

func (s *BackendTestSuite) TestDropTable() {
	s.createBoth("foo")
	s.createBoth("keep")
	s.fill("foo", 50)
	s.insertBoth("keep", 1, 1, "k", "kept")

	before := s.backend.Engine().Allocator().Stats()
	s.NoError(s.backend.DropTable("foo"))
	s.assertQuery("drop table foo")

	after := s.backend.Engine().Allocator().Stats()
	s.Less(after.Allocated, before.Allocated)
	s.Equal(before.Total(), after.Total())

	_, err := s.backend.Scan("foo")
	s.True(errors.Is(err, ErrTableNotFound))

	s.restart()
	_, err = s.backend.Table("foo")
	s.True(errors.Is(err, ErrTableNotFound))
	s.Equal(s.sqliteRows("keep"), s.scan("keep"))
	s.Len(s.backend.Tables(), 1)
}

func (s *BackendTestSuite) TestCreateTable_Errors() {
	s.createBoth("foo")

	_, err := s.backend.CreateTable("foo", testColumns...)
	s.True(errors.Is(err, ErrTableExists))

	_, err = s.backend.CreateTable("empty")
	s.Error(err)
}

func (s *BackendTestSuite) TestInsert_Errors() {
	s.createBoth("foo")

	_, err := s.backend.Insert("foo", 1, 2.0, "x")
	s.Error(err)

	_, err = s.backend.Insert("foo", "one", 2.0, "x", "y")
	s.True(errors.Is(err, record.ErrFieldType))

	_, err = s.backend.Insert("foo", 1, 2.0, 3, "y")
	s.True(errors.Is(err, record.ErrFieldType))

	_, err = s.backend.Insert("nope", 1, 2.0, "x", "y")
	s.True(errors.Is(err, ErrTableNotFound))

	s.Empty(s.scan("foo"))
}

func (s *BackendTestSuite) mustTable(name string) *heap.Relation {
	rel, err := s.backend.Table(name)
	s.Require().NoError(err)
	return rel
}

func (s *BackendTestSuite) TestInsert_IntOutOfRange() {
	s.createBoth("foo")

	_, err := s.backend.Insert("foo", int64(1)<<40, 2.0, "x", "y")
	s.True(errors.Is(err, record.ErrFieldType))
	s.Empty(s.scan("foo"))
}

func (s *BackendTestSuite) TestInsertText() {
	s.createBoth("foo")

	fields, err := SplitRow(`5,1.5,code,"hello, world"`)
	s.Require().NoError(err)
	s.NoError(s.backend.InsertText("foo", fields))
	s.assertQuery("insert into foo (id, score, code, note) values (?, ?, ?, ?)", 5, 1.5, "code", "hello, world")

	s.True(errors.Is(s.backend.InsertText("foo", []string{"five", "1", "c", "n"}), record.ErrFieldType))
	s.True(errors.Is(s.backend.InsertText("nope", fields), ErrTableNotFound))

	s.Equal(s.sqliteRows("foo"), s.scan("foo"))
}
