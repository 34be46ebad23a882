/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/tablerepo/database"
	"github.com/tomoncle/tablerepo/types"
	"github.com/uptrace/bun"
)

type Saying struct {
	bun.BaseModel `bun:"table:sayings"`

	ID     int64  `bun:"id,pk,autoincrement"`
	Author string `bun:"author"`
	Text   string `bun:"text"`
}

type SayingText struct {
	Text string `bun:"text"`
}

type queryLog struct {
	mu      sync.Mutex
	queries []string
}

func (l *queryLog) record(message string, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries = append(l.queries, message)
}

func (l *queryLog) contains(fragment string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, q := range l.queries {
		if strings.Contains(q, fragment) {
			return true
		}
	}
	return false
}

const sayingsSchema = `CREATE TABLE sayings (id INTEGER PRIMARY KEY, author TEXT NOT NULL, text TEXT)`

// PlainSaying carries no bun tags, so its key comes from the table.
type PlainSaying struct {
	ID     int64
	Quote  string
	Author string
}

const quotesSchema = `CREATE TABLE sayings (id INTEGER PRIMARY KEY, quote TEXT, author TEXT)`

func openManager(t *testing.T, log *queryLog) *database.ConnectionManager {
	t.Helper()
	cfg, err := database.ParseConnectionString("sqlite:" + filepath.Join(t.TempDir(), "repo.db") + ",,")
	require.NoError(t, err)
	var opts []database.ManagerOption
	if log != nil {
		opts = append(opts, database.WithAccessLogger(database.AccessLoggerFunc(log.record)))
	}
	m := database.NewConnectionManager(cfg, opts...)
	t.Cleanup(func() { _ = m.Disconnect() })
	return m
}

// newSayings returns a repository over a sayings table holding three rows.
func newSayings(t *testing.T, log *queryLog, opts ...Option) *Repository[Saying] {
	t.Helper()
	ctx := context.Background()
	repo, err := New[Saying](openManager(t, log), opts...)
	require.NoError(t, err)

	_, err = repo.Exec(ctx, sayingsSchema)
	require.NoError(t, err)
	for _, s := range []Saying{
		{Author: "alice", Text: "first"},
		{Author: "bob", Text: "second"},
		{Author: "alice", Text: "third"},
	} {
		_, err := repo.Add(ctx, &s)
		require.NoError(t, err)
	}
	return repo
}

func TestRepositoryFind(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	found, err := repo.Find(ctx, types.NewFilterOptions("id=2"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0].Author)
	assert.Equal(t, "second", found[0].Text)

	found, err = repo.Find(ctx, &types.FilterOptions{Condition: "author = ?", Args: []interface{}{"alice"}, OrderBy: "id DESC"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, int64(3), found[0].ID)

	all, err := repo.Find(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.Find(ctx, types.NewFilterOptions("id=99"))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRepositoryFindOne(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	one, err := repo.FindOne(ctx, &types.FilterOptions{OrderBy: "id DESC"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), one.ID)

	_, err = repo.FindOne(ctx, types.NewFilterOptions("id=99"))
	assert.ErrorIs(t, err, sql.ErrNoRows)
	var qe *database.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, database.NoRowsErr, qe.Kind)
}

func TestRepositoryAddWritesBackIdentity(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	s := &Saying{Author: "carol", Text: "fourth"}
	added, err := repo.Add(ctx, s)
	require.NoError(t, err)
	assert.Same(t, s, added)
	assert.Equal(t, int64(4), s.ID)

	got, err := repo.FindOne(ctx, types.NewFilterOptions("id=?", s.ID))
	require.NoError(t, err)
	assert.Equal(t, *s, *got)

	explicit := &Saying{ID: 10, Author: "dan", Text: "tenth"}
	_, err = repo.Add(ctx, explicit)
	require.NoError(t, err)
	assert.Equal(t, int64(10), explicit.ID)

	_, err = repo.Add(ctx, &Saying{ID: 10, Author: "eve"})
	var qe *database.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, database.DuplicateKeyErr, qe.Kind)
}

func TestRepositoryAddDiscoveredKey(t *testing.T) {
	ctx := context.Background()
	log := &queryLog{}
	repo, err := New[PlainSaying](openManager(t, log), WithTable("sayings"))
	require.NoError(t, err)
	assert.Empty(t, repo.Codec().PrimaryKeys())
	_, err = repo.Exec(ctx, quotesSchema)
	require.NoError(t, err)

	for i, quote := range []string{"one", "two", "three"} {
		s := &PlainSaying{Quote: quote, Author: "anon"}
		_, err := repo.Add(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), s.ID)
	}
	assert.True(t, log.contains(`INSERT INTO "sayings" ("quote", "author") VALUES (?, ?)`))

	n, err := repo.Select("quote").Modify(ctx, &PlainSaying{ID: 2, Quote: "deux"}, nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = repo.Remove(ctx, &PlainSaying{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	repo.Select()
	all, err := repo.Find(ctx, &types.FilterOptions{OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, PlainSaying{ID: 2, Quote: "deux", Author: "anon"}, *all[1])

	explicit := &PlainSaying{ID: 9, Quote: "nine"}
	_, err = repo.Add(ctx, explicit)
	require.NoError(t, err)
	assert.Equal(t, int64(9), explicit.ID)
}

func TestRepositoryRowSayings(t *testing.T) {
	ctx := context.Background()
	repo, err := New[Row](openManager(t, nil))
	require.NoError(t, err)
	repo.From("sayings")

	_, err = repo.Exec(ctx, quotesSchema)
	require.NoError(t, err)
	for _, seed := range []Row{
		{"quote": "Know thyself", "author": "Socrates"},
		{"quote": "Less is more", "author": "Browning"},
		{"quote": "Carpe diem", "author": "Horace"},
	} {
		row := seed
		_, err := repo.Add(ctx, &row)
		require.NoError(t, err)
	}

	found, err := repo.Find(ctx, types.NewFilterOptions("id = ?", "2"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, Row{"id": int64(2), "quote": "Less is more", "author": "Browning"}, *found[0])

	row := Row{"quote": "Fortune favors the bold", "author": "Virgil"}
	added, err := repo.Add(ctx, &row)
	require.NoError(t, err)
	assert.Equal(t, int64(4), (*added)["id"])

	n, err := repo.Remove(ctx, &Row{"id": 4})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRepositoryLiteralQuestionMarks(t *testing.T) {
	ctx := context.Background()
	log := &queryLog{}
	repo := newSayings(t, log)

	s := &Saying{Author: "zed", Text: "why?"}
	_, err := repo.Add(ctx, s)
	require.NoError(t, err)
	require.Equal(t, int64(4), s.ID)

	n, err := repo.Select("author").Modify(ctx, &Saying{ID: 4, Author: "z"}, types.NewFilterOptions("text = 'why?'"), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, log.contains(`UPDATE "sayings" SET "author" = ? WHERE (text = 'why?') AND "id" = ?`))

	repo.Select()
	found, err := repo.Find(ctx, types.NewFilterOptions("text = 'why?' AND author = ?", "z"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(4), found[0].ID)

	count, err := repo.Count(ctx, types.NewFilterOptions("text <> 'why?' AND author = ?", "alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRepositoryModify(t *testing.T) {
	ctx := context.Background()
	log := &queryLog{}
	repo := newSayings(t, log)

	s := &Saying{ID: 2, Author: "bob", Text: "changed"}
	n, err := repo.Select("text").Modify(ctx, s, nil, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, log.contains(`UPDATE "sayings" SET "text" = ? WHERE "id" = ?`))

	repo.Select()
	got, err := repo.FindOne(ctx, types.NewFilterOptions("id=2"))
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Text)

	n, err = repo.Select("text").Modify(ctx, &Saying{Text: "bulk"}, types.NewFilterOptions("author = ?", "alice"), false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.Modify(ctx, &Saying{ID: 1, Text: "guarded"}, types.NewFilterOptions("author = ?", "bob"), true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "caller condition and key predicate both apply")

	_, err = repo.Select("nothing_known").Modify(ctx, s, nil, true)
	var cfgErr *database.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRepositoryCompositeKeys(t *testing.T) {
	ctx := context.Background()
	log := &queryLog{}
	repo, err := New[Row](openManager(t, log), WithTable("pairs"))
	require.NoError(t, err)

	_, err = repo.Exec(ctx, `CREATE TABLE pairs (k1 INTEGER NOT NULL, k2 TEXT NOT NULL, status TEXT, PRIMARY KEY (k1, k2))`)
	require.NoError(t, err)

	row := &Row{"k1": 1, "k2": "a", "status": "open"}
	added, err := repo.Add(ctx, row)
	require.NoError(t, err)
	assert.Equal(t, row, added)
	assert.Equal(t, Row{"k1": 1, "k2": "a", "status": "open"}, *row, "composite keys are not written back")
	_, err = repo.Add(ctx, &Row{"k1": 1, "k2": "b", "status": "open"})
	require.NoError(t, err)

	n, err := repo.Select("status").Modify(ctx, &Row{"k1": 1, "k2": "a", "status": "closed"}, types.NewFilterOptions("status='open'"), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, log.contains(`WHERE (status='open') AND "k1" = ? AND "k2" = ?`))

	repo.Select()
	count, err := repo.Count(ctx, types.NewFilterOptions("status='open'"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	n, err = repo.Remove(ctx, &Row{"k1": 1, "k2": "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, log.contains(`DELETE FROM "pairs" WHERE "k1" = ? AND "k2" = ?`))

	rows, err := repo.Find(ctx, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "closed", (*rows[0])["status"])
	assert.Equal(t, int64(1), (*rows[0])["k1"])
}

func TestRepositoryRemove(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	n, err := repo.Remove(ctx, &Saying{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Remove(ctx, &Saying{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRepositoryNoPrimaryKey(t *testing.T) {
	ctx := context.Background()
	repo, err := New[Row](openManager(t, nil), WithTable("loose"))
	require.NoError(t, err)
	_, err = repo.Exec(ctx, `CREATE TABLE loose (a TEXT)`)
	require.NoError(t, err)

	_, err = repo.Remove(ctx, &Row{"a": "x"})
	var cfgErr *database.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	n, err := repo.Keys("a").Remove(ctx, &Row{"a": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRepositoryWithoutTable(t *testing.T) {
	ctx := context.Background()
	repo, err := New[Row](openManager(t, nil))
	require.NoError(t, err)

	var cfgErr *database.ConfigurationError
	_, err = repo.Find(ctx, nil)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = repo.Add(ctx, &Row{"a": 1})
	assert.ErrorAs(t, err, &cfgErr)
	_, err = repo.Count(ctx, nil)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = repo.Backup(ctx, "")
	assert.ErrorAs(t, err, &cfgErr)

	_, err = New[Row](nil)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRepositoryCountAndPage(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	count, err := repo.Count(ctx, &types.FilterOptions{Condition: "author = ?", Args: []interface{}{"alice"}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "limit does not cap the count")

	groups, err := repo.Count(ctx, &types.FilterOptions{GroupBy: "author"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), groups)

	page, err := repo.Page(ctx, types.NewPageRequestWithOrders(2, 2, []string{"id ASC"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, int64(2), page.Pages())
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(3), page.Items[0].ID)

	empty, err := repo.Page(ctx, types.NewPageRequestWithFilter(1, 10, types.NewFilterOptions("id > 100")))
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Total)
	assert.Empty(t, empty.Items)
}

func TestRepositoryPageCountFailure(t *testing.T) {
	ctx := context.Background()
	repo, err := New[Row](openManager(t, nil), WithTable("ghost"))
	require.NoError(t, err)

	page, err := repo.Page(ctx, types.NewDefaultPageRequest(1, 10))
	assert.Nil(t, page)
	var qe *database.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, database.NoTableErr, qe.Kind)
}

func TestRepositoryModifyLimit(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	_, err := repo.Select("text").Modify(ctx, &Saying{Text: "capped"}, &types.FilterOptions{Limit: 1}, false)
	var cfgErr *database.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	repo.Select()
	count, err := repo.Count(ctx, types.NewFilterOptions("text = 'capped'"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRepositoryTransactions(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	require.NoError(t, repo.BeginTransaction(ctx))
	assert.True(t, repo.InTransaction())
	_, err := repo.Add(ctx, &Saying{Author: "tx", Text: "rolled back"})
	require.NoError(t, err)
	inside, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), inside)
	require.NoError(t, repo.Rollback())
	assert.False(t, repo.InTransaction())

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, repo.BeginTransaction(ctx))
	var cfgErr *database.ConfigurationError
	assert.ErrorAs(t, repo.BeginTransaction(ctx), &cfgErr)
	_, err = repo.Remove(ctx, &Saying{ID: 1})
	require.NoError(t, err)
	require.NoError(t, repo.Commit())
	assert.ErrorAs(t, repo.Commit(), &cfgErr)

	count, err = repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRepositoryRunInTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)
	boom := errors.New("boom")

	err := repo.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := repo.Add(ctx, &Saying{Author: "x", Text: "y"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, repo.InTransaction())

	err = repo.RunInTransaction(ctx, func(ctx context.Context) error {
		_, err := repo.Add(ctx, &Saying{Author: "x", Text: "kept"})
		return err
	})
	require.NoError(t, err)

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestRepositoryRawAccess(t *testing.T) {
	ctx := context.Background()
	log := &queryLog{}
	repo := newSayings(t, log)

	rows, err := repo.Query(ctx, "SELECT author FROM sayings WHERE id = ?", 1)
	require.NoError(t, err)
	require.True(t, rows.Next())
	var author string
	require.NoError(t, rows.Scan(&author))
	require.NoError(t, rows.Close())
	assert.Equal(t, "alice", author)
	assert.True(t, log.contains("SELECT author FROM sayings WHERE id = ?"))

	_, err = repo.Query(ctx, "SELECT * FROM nope")
	var qe *database.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, database.NoTableErr, qe.Kind)
	assert.Equal(t, "SELECT * FROM nope", qe.SQL)

	found, err := repo.FindBySQL(ctx, "SELECT id, text FROM sayings WHERE author = ? ORDER BY id", "alice")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Empty(t, found[0].Author)
	assert.Equal(t, "third", found[1].Text)
}

func TestRepositoryTo(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	texts, err := To[SayingText](repo.Select("text"))
	require.NoError(t, err)
	assert.Equal(t, "sayings", texts.Spec().Table())
	assert.Same(t, repo.Connection(), texts.Connection())

	found, err := texts.Find(ctx, &types.FilterOptions{OrderBy: "id"})
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "first", found[0].Text)

	rows, err := To[Row](repo.Select(), "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, rows.Spec().Keys())
	all, err := rows.Find(ctx, types.NewFilterOptions("id=1"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice", (*all[0])["author"])
}

func TestRepositorySpecSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	spec := repo.Select("id", "author").Spec()
	repo.Select("text")

	found, err := repo.FindWith(ctx, spec, types.NewFilterOptions("id=1"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[0].Author)
	assert.Empty(t, found[0].Text)
	assert.Equal(t, []string{"id", "author"}, spec.Fields())
}

func TestRepositoryReconnectsAfterClose(t *testing.T) {
	ctx := context.Background()
	repo := newSayings(t, nil)

	require.NoError(t, repo.Close())
	assert.Equal(t, database.StateClosed, repo.Connection().State())

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
