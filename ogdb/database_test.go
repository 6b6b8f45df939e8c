package ogdb

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLDB(t *testing.T) (*LevelDB, func()) {
	dirname, err := ioutil.TempDir(os.TempDir(), "ogdb_test_")
	require.NoError(t, err)
	db, err := NewLevelDB(dirname, 0, 0)
	require.NoError(t, err)

	return db, func() {
		db.Close()
		os.RemoveAll(dirname)
	}
}

var testValues = []string{"", "a", "1251", "\x00123\x00"}

func TestLDB_PutGet(t *testing.T) {
	db, remove := newTestLDB(t)
	defer remove()
	testPutGet(db, t)
}

func TestMemoryDB_PutGet(t *testing.T) {
	testPutGet(NewMemDatabase(), t)
}

func testPutGet(db Database, t *testing.T) {
	for _, k := range testValues {
		require.NoError(t, db.Put([]byte(k), []byte(k+"v")))
	}
	for _, k := range testValues {
		data, err := db.Get([]byte(k))
		require.NoError(t, err)
		assert.Equal(t, []byte(k+"v"), data)

		has, err := db.Has([]byte(k))
		require.NoError(t, err)
		assert.True(t, has)
	}

	_, err := db.Get([]byte("missing"))
	assert.Equal(t, ErrNotFound, err)

	for _, k := range testValues {
		require.NoError(t, db.Delete([]byte(k)))
		_, err := db.Get([]byte(k))
		assert.Equal(t, ErrNotFound, err)
	}
}
