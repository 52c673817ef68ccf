package command

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/joeandaverde/heapdb/internal/backend"
	"github.com/joeandaverde/heapdb/internal/record"
)

func testConfig(t *testing.T) (string, string) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heapdb.yml")
	body := fmt.Sprintf("data_directory: %s\npage_size: 256\nmax_file_size: 1024\nbuffer_count: 2\nlog_level: error\n", dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o640))
	return dir, path
}

func TestCommands_RoundTrip(t *testing.T) {
	assert := require.New(t)
	_, path := testConfig(t)

	assert.Equal(0, (&CreateCommand{}).Run([]string{"-config", path, "-table", "t", "a INT", "b VARCHAR"}))
	assert.Equal(1, (&CreateCommand{}).Run([]string{"-config", path, "-table", "t", "a INT"}))
	assert.Equal(1, (&CreateCommand{}).Run([]string{"-config", path, "-table", "u", "a BLOB"}))

	assert.Equal(0, (&LoadCommand{}).Run([]string{"-config", path, "-table", "t", "-rows", "40"}))
	assert.Equal(0, (&LoadCommand{}).Run([]string{"-config", path, "-table", "sample", "-rows", "25"}))
	assert.Equal(0, (&ScanCommand{}).Run([]string{"-config", path, "-table", "t", "-limit", "3"}))
	assert.Equal(0, (&InfoCommand{}).Run([]string{"-config", path}))

	config, err := backend.LoadConfig(path)
	assert.NoError(err)
	e, err := backend.Start(logrus.New(), config)
	assert.NoError(err)
	b, err := backend.NewBackend(logrus.New(), e)
	assert.NoError(err)
	rows, err := b.Scan("t")
	assert.NoError(err)
	assert.Len(rows, 40)
	rows, err = b.Scan("sample")
	assert.NoError(err)
	assert.Len(rows, 25)
	assert.NoError(b.Close())

	assert.Equal(0, (&DropCommand{}).Run([]string{"-config", path, "-table", "t"}))
	assert.Equal(1, (&DropCommand{}).Run([]string{"-config", path, "-table", "t"}))
	assert.Equal(1, (&ScanCommand{}).Run([]string{"-config", path, "-table", "t"}))
}

func TestLoad_Interrupted(t *testing.T) {
	_, path := testConfig(t)

	shutdownCh := make(chan struct{})
	close(shutdownCh)

	require.Equal(t, 1, (&LoadCommand{ShutDownCh: shutdownCh}).Run([]string{"-config", path, "-rows", "10"}))
}

func TestCommands_MissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yml")
	require.Equal(t, 1, (&InfoCommand{}).Run([]string{"-config", missing}))
}

func TestSampleRow(t *testing.T) {
	assert := require.New(t)

	schema, err := record.NewSchema(sampleColumns...)
	assert.NoError(err)

	values, err := sampleRow(schema, rand.New(rand.NewSource(7)), 12)
	assert.NoError(err)
	assert.Len(values, 4)
	assert.Equal(12, values[0])
	assert.Len(values[2], 8)
}

func scanTable(t *testing.T, path, table string) [][]interface{} {
	config, err := backend.LoadConfig(path)
	require.NoError(t, err)
	e, err := backend.Start(logrus.New(), config)
	require.NoError(t, err)
	b, err := backend.NewBackend(logrus.New(), e)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	rows, err := b.Scan(table)
	require.NoError(t, err)

	var out [][]interface{}
	for _, r := range rows {
		out = append(out, r.Data)
	}
	return out
}

func TestInsert(t *testing.T) {
	assert := require.New(t)
	_, path := testConfig(t)

	create := []string{"-config", path, "-table", "t", "id INT", "score REAL", "code CHAR(4)", "note VARCHAR"}
	assert.Equal(0, (&CreateCommand{}).Run(create))

	assert.Equal(0, (&InsertCommand{}).Run([]string{"-config", path, "-table", "t", `1,2.5,ab,"hello, world"`}))
	assert.Equal(0, (&InsertCommand{}).Run([]string{"-config", path, "-table", "t", "2,0,cd,two", "words"}))

	for _, values := range []string{
		`x,2.5,ab,n`,
		`1,2.5,toolong,n`,
		`1,2.5,ab`,
		`1,2.5,ab,"open`,
		`99999999999,1,ab,n`,
	} {
		assert.Equal(1, (&InsertCommand{}).Run([]string{"-config", path, "-table", "t", values}), values)
	}
	assert.Equal(1, (&InsertCommand{}).Run([]string{"-config", path, "-table", "nope", "1"}))
	assert.Equal(1, (&InsertCommand{}).Run([]string{"-config", path, "-table", "t"}))

	assert.Equal([][]interface{}{
		{int32(1), float32(2.5), "ab", "hello, world"},
		{int32(2), float32(0), "cd", "two words"},
	}, scanTable(t, path, "t"))
}

func TestLoad_CSV(t *testing.T) {
	assert := require.New(t)
	dir, path := testConfig(t)

	assert.Equal(0, (&CreateCommand{}).Run([]string{"-config", path, "-table", "t", "id INT", "note VARCHAR"}))

	good := filepath.Join(dir, "rows.csv")
	assert.NoError(os.WriteFile(good, []byte("1,one\n2,\"two, too\"\n\n3,three\n"), 0o640))
	assert.Equal(0, (&LoadCommand{}).Run([]string{"-config", path, "-table", "t", "-csv", good}))

	bad := filepath.Join(dir, "bad.csv")
	assert.NoError(os.WriteFile(bad, []byte("4,four\nfive,5\n6,six\n"), 0o640))
	assert.Equal(1, (&LoadCommand{}).Run([]string{"-config", path, "-table", "t", "-csv", bad}))

	assert.Equal(1, (&LoadCommand{}).Run([]string{"-config", path, "-table", "t", "-csv", filepath.Join(dir, "missing.csv")}))
	assert.Equal(1, (&LoadCommand{}).Run([]string{"-config", path, "-table", "nope", "-csv", good}))

	// rows before the bad line stay inserted
	assert.Equal([][]interface{}{
		{int32(1), "one"},
		{int32(2), "two, too"},
		{int32(3), "three"},
		{int32(4), "four"},
	}, scanTable(t, path, "t"))
}
