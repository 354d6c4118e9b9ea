package ndb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_NestedAutoKey(t *testing.T) {
	eachBackend(t, blogSchema, func(t *testing.T, db *DB) {
		ctx := context.Background()
		r := listen(t, db, Match{})

		res, err := db.Create(ctx, "user", map[string]any{"id": "u1", "name": "A", "role": map[string]any{"label": "R"}})
		require.NoError(t, err)
		assert.Equal(t, []any{"u1"}, res.Keys)

		assert.Equal(t, 1, count(t, db, "role"))
		assert.Equal(t, Record{"id": int64(1), "label": "R", RefsField: Refs{"user": {"u1"}}}, get(t, db, "role", 1))
		assert.Equal(t, Record{"id": "u1", "name": "A", "role": int64(1)}, get(t, db, "user", "u1"))
		assert.Equal(t, []Record{{"id": "u1", "name": "A", "role": int64(1)}}, res.Records)

		assert.Equal(t, []string{`created role/1`, `created user/"u1"`}, eventStrings(r.take()))
	})
}

func TestCreate_AutoKeyIgnoresGivenKey(t *testing.T) {
	db := setupMem(t, blogSchema())
	ctx := context.Background()

	res, err := db.Create(ctx, "role", []any{
		map[string]any{"id": 42, "label": "A"},
		map[string]any{"label": "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, res.Keys)
	assert.Nil(t, get(t, db, "role", 42))
}

func TestCreate_AlreadyExists(t *testing.T) {
	db := setupMem(t, blogSchema())
	ctx := context.Background()
	mustWrite(t, db, db.Create, "user", map[string]any{"id": "u1", "name": "A"})

	_, err := db.Create(ctx, "user", map[string]any{"id": "u1", "name": "B"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, "A", get(t, db, "user", "u1")["name"])
}

func TestPut_MergesExisting(t *testing.T) {
	eachBackend(t, blogSchema, func(t *testing.T, db *DB) {
		ctx := context.Background()
		mustWrite(t, db, db.Create, "user", map[string]any{"id": "u2", "name": "B", "age": 30})
		mustWrite(t, db, db.Create, "article", map[string]any{"id": "a1", "author": "u2"})
		before := count(t, db, "user")
		r := listen(t, db, Match{})

		_, err := db.Put(ctx, "user", []any{
			map[string]any{"id": "u1", "name": "A"},
			map[string]any{"id": "u2", "name": "B2"},
			map[string]any{"id": "u3", "name": "C"},
		})
		require.NoError(t, err)

		assert.Equal(t, before+2, count(t, db, "user"))
		assert.Equal(t, Record{"id": "u2", "name": "B2", RefsField: Refs{"article": {"a1"}}}, get(t, db, "user", "u2"))
		assert.Equal(t, []string{`created user/"u1"`, `updated user/"u2"`, `created user/"u3"`}, eventStrings(r.take()))
	})
}

func TestUpdate_Preconditions(t *testing.T) {
	db := setupMem(t, blogSchema())
	ctx := context.Background()
	mustWrite(t, db, db.Create, "user", map[string]any{"id": "u1", "name": "A", "age": 30})

	_, err := db.Update(ctx, "user", map[string]any{"id": "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.Update(ctx, "user", map[string]any{"name": "nokey"})
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = db.Set(ctx, "user", map[string]any{"name": "nokey"})
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = db.Update(ctx, "user", []any{map[string]any{"id": "u1", "name": "Z"}, map[string]any{"id": "ghost"}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "A", get(t, db, "user", "u1")["name"], "a failed batch writes nothing")

	_, err = db.Update(ctx, "user", map[string]any{"id": "u1", "name": "Z"})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": "u1", "name": "Z"}, get(t, db, "user", "u1"), "update replaces the record")
}

func TestSet_KeepsUnmentionedFields(t *testing.T) {
	db := setupMem(t, blogSchema())
	ctx := context.Background()
	mustWrite(t, db, db.Create, "user", map[string]any{"id": "u1", "name": "A", "age": 30})

	_, err := db.Set(ctx, "user", map[string]any{"id": "u1", "age": 31})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": "u1", "name": "A", "age": int64(31)}, get(t, db, "user", "u1"))

	_, err = db.Put(ctx, "user", map[string]any{"id": "u1", "email": "a@example.com"}, Partial())
	require.NoError(t, err)
	assert.Equal(t, Record{"id": "u1", "name": "A", "age": int64(31), "email": "a@example.com"}, get(t, db, "user", "u1"))
}

func TestWrite_InvalidInput(t *testing.T) {
	db := setupMem(t, blogSchema())
	ctx := context.Background()

	_, err := db.Create(ctx, "nope", map[string]any{"id": "x"})
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = db.Create(ctx, "user", nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = db.Create(ctx, "user", []any{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = db.Create(ctx, "article", map[string]any{"id": "a1", "comments": "c1"})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = db.Create(ctx, "user", map[string]any{"name": "no key"})
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestWrite_KeyGenerator(t *testing.T) {
	db := setupMem(t, blogSchema(), func(o *Options) {
		o.KeyGenerator = SequenceKeys("")
	})
	res, err := db.Create(context.Background(), "user", map[string]any{"name": "A"})
	require.NoError(t, err)
	assert.Equal(t, []any{"user-1"}, res.Keys)
}

func TestWrite_RelinksOnFieldChange(t *testing.T) {
	eachBackend(t, blogSchema, func(t *testing.T, db *DB) {
		ctx := context.Background()
		mustWrite(t, db, db.Create, "user", []any{map[string]any{"id": "u1"}, map[string]any{"id": "u2"}})
		mustWrite(t, db, db.Create, "article", map[string]any{"id": "a1", "author": "u1"})
		assert.Equal(t, Refs{"article": {"a1"}}, get(t, db, "user", "u1").Refs())

		mustWrite(t, db, db.Set, "article", map[string]any{"id": "a1", "author": "u2"})
		assert.Empty(t, get(t, db, "user", "u1").Refs())
		assert.Equal(t, Refs{"article": {"a1"}}, get(t, db, "user", "u2").Refs())

		mustWrite(t, db, db.Set, "article", map[string]any{"id": "a1", "author": nil})
		assert.Empty(t, get(t, db, "user", "u2").Refs())
	})
}

func TestWrite_UnionOfFieldsPerTargetType(t *testing.T) {
	scm := NewSchema()
	scm.Define("user", nil)
	scm.Define("doc", func(b *TypeBuilder) {
		b.One("owner", "user")
		b.Many("editors", "user")
	})
	db := setupMem(t, scm)
	mustWrite(t, db, db.Create, "user", []any{map[string]any{"id": "u1"}, map[string]any{"id": "u2"}})
	mustWrite(t, db, db.Create, "doc", map[string]any{"id": "d1", "owner": "u1", "editors": []any{"u1", "u2"}})

	// u1 stays referenced through editors
	mustWrite(t, db, db.Set, "doc", map[string]any{"id": "d1", "owner": "u2"})
	assert.Equal(t, Refs{"doc": {"d1"}}, get(t, db, "user", "u1").Refs())

	mustWrite(t, db, db.Set, "doc", map[string]any{"id": "d1", "editors": []any{"u2"}})
	assert.Empty(t, get(t, db, "user", "u1").Refs())
	assert.Equal(t, Refs{"doc": {"d1"}}, get(t, db, "user", "u2").Refs())
}

func TestWrite_CycleWithinOneWrite(t *testing.T) {
	scm := NewSchema()
	scm.Define("a", func(b *TypeBuilder) {
		b.One("b", "b")
	})
	scm.Define("b", func(b *TypeBuilder) {
		b.One("a", "a")
	})
	db := setupMem(t, scm)
	mustWrite(t, db, db.Create, "a", map[string]any{"id": "a1", "b": map[string]any{"id": "b1", "a": "a1"}})

	assert.Equal(t, Record{"id": "a1", "b": "b1", RefsField: Refs{"b": {"b1"}}}, get(t, db, "a", "a1"))
	assert.Equal(t, Record{"id": "b1", "a": "a1", RefsField: Refs{"a": {"a1"}}}, get(t, db, "b", "b1"))
}

func TestWrite_RepeatedParentKeepsOnlyFinalRefs(t *testing.T) {
	eachBackend(t, blogSchema, func(t *testing.T, db *DB) {
		mustWrite(t, db, db.Create, "article", []any{
			map[string]any{"id": "a1", "comments": []any{map[string]any{"id": "c1"}}},
			map[string]any{"id": "a1", "comments": []any{}},
			map[string]any{"id": "a2", "comments": []any{map[string]any{"id": "c2"}}},
			map[string]any{"id": "a2", "comments": []any{map[string]any{"id": "c3"}}},
		})

		assert.Empty(t, get(t, db, "article", "a1")["comments"])
		assert.Equal(t, []any{"c3"}, get(t, db, "article", "a2")["comments"])
		assert.Equal(t, Record{"id": "c1"}, get(t, db, "comment", "c1"))
		assert.Empty(t, get(t, db, "comment", "c2").Refs())
		assert.Equal(t, Refs{"article": {"a2"}}, get(t, db, "comment", "c3").Refs())
	})
}

func TestWrite_SelfReference(t *testing.T) {
	scm := NewSchema()
	scm.Define("node", func(b *TypeBuilder) {
		b.One("next", "node")
	})
	db := setupMem(t, scm)
	mustWrite(t, db, db.Create, "node", map[string]any{"id": "n1", "next": "n1"})
	assert.Equal(t, Record{"id": "n1", "next": "n1", RefsField: Refs{"node": {"n1"}}}, get(t, db, "node", "n1"))

	mustWrite(t, db, db.Set, "node", map[string]any{"id": "n1", "next": nil})
	assert.Equal(t, Record{"id": "n1", "next": nil}, get(t, db, "node", "n1"))
}

func TestWrite_WithoutReverseRefs(t *testing.T) {
	db := setupMem(t, blogSchema(), withoutRefs)
	mustWrite(t, db, db.Create, "user", map[string]any{"id": "u1", "role": map[string]any{"label": "R"}})
	mustWrite(t, db, db.Create, "article", map[string]any{"id": "a1", "author": "u1"})

	assert.Equal(t, Record{"id": int64(1), "label": "R"}, get(t, db, "role", 1))
	assert.Equal(t, Record{"id": "u1", "role": int64(1)}, get(t, db, "user", "u1"))
}

func TestCreate_ReplacesScalarParentSlot(t *testing.T) {
	eachBackend(t, blogSchema, func(t *testing.T, db *DB) {
		ctx := context.Background()
		mustWrite(t, db, db.Create, "user", map[string]any{"id": "u1", "role": map[string]any{"label": "R1"}})
		r := listen(t, db, Match{})

		res, err := db.Create(ctx, "role", map[string]any{"label": "R2"}, WithParent(Parent{"user", "u1", "role"}))
		require.NoError(t, err)
		assert.Equal(t, []any{int64(2)}, res.Keys)

		assert.Equal(t, int64(2), get(t, db, "user", "u1")["role"])
		assert.Equal(t, Record{"id": int64(1), "label": "R1"}, get(t, db, "role", 1), "displaced child survives without the reference")
		assert.Equal(t, Record{"id": int64(2), "label": "R2", RefsField: Refs{"user": {"u1"}}}, get(t, db, "role", 2))
		assert.Equal(t, 2, count(t, db, "role"))

		evs := r.take()
		require.Len(t, evs, 1)
		assert.Equal(t, `created role/2 in user/"u1".role`, evs[0].String())
		assert.Equal(t, Refs{"user": {"u1"}}, evs[0].Item.Refs(), "events carry the committed record")
	})
}

func TestCreate_AttachToArrayParent(t *testing.T) {
	db := setupMem(t, blogSchema())
	ctx := context.Background()
	mustWrite(t, db, db.Create, "article", map[string]any{"id": "a1", "title": "T"})
	parent := WithParent(Parent{"article", "a1", "comments"})

	mustWrite(t, db, db.Create, "comment", []any{map[string]any{"id": "c1"}, map[string]any{"id": "c2"}}, parent)
	mustWrite(t, db, db.Put, "comment", map[string]any{"id": "c1", "text": "again"}, parent)
	mustWrite(t, db, db.Create, "comment", map[string]any{"id": "c3"}, parent)

	assert.Equal(t, []any{"c1", "c2", "c3"}, get(t, db, "article", "a1")["comments"])
	assert.Equal(t, Record{"id": "c1", "text": "again", RefsField: Refs{"article": {"a1"}}}, get(t, db, "comment", "c1"))

	n, err := db.Query("comment").Parent(Parent{"article", "a1", "comments"}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCreate_ParentErrorsRollBack(t *testing.T) {
	db := setupMem(t, blogSchema())
	ctx := context.Background()
	mustWrite(t, db, db.Create, "user", map[string]any{"id": "u1"})
	r := listen(t, db, Match{})

	_, err := db.Create(ctx, "role", []any{map[string]any{"label": "A"}, map[string]any{"label": "B"}}, WithParent(Parent{"user", "u1", "role"}))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = db.Create(ctx, "comment", map[string]any{"id": "c1"}, WithParent(Parent{"user", "u1", "role"}))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = db.Create(ctx, "role", map[string]any{"label": "A"}, WithParent(Parent{"user", "ghost", "role"}))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 0, count(t, db, "role"))
	assert.Equal(t, 0, count(t, db, "comment"))
	assert.Empty(t, r.take(), "nothing is published for rolled back writes")
}

func TestWrite_MultipleParents(t *testing.T) {
	db := setupMem(t, blogSchema())
	mustWrite(t, db, db.Create, "article", []any{map[string]any{"id": "a1"}, map[string]any{"id": "a2"}})
	r := listen(t, db, Match{}.Type("comment"))
	mustWrite(t, db, db.Create, "comment", map[string]any{"id": "c1"}, WithParents(
		Parent{"article", "a1", "comments"},
		Parent{"article", "a2", "comments"},
	))
	assert.Equal(t, []any{"c1"}, get(t, db, "article", "a1")["comments"])
	assert.Equal(t, []any{"c1"}, get(t, db, "article", "a2")["comments"])
	assert.Equal(t, Refs{"article": {"a1", "a2"}}, get(t, db, "comment", "c1").Refs())

	evs := r.take()
	require.Len(t, evs, 1)
	assert.Equal(t, &Parent{"article", "a1", "comments"}, evs[0].Parent)
	assert.Equal(t, Refs{"article": {"a1", "a2"}}, evs[0].Item.Refs())
}

func TestTx_ScopeViolationPanics(t *testing.T) {
	db := setupMem(t, blogSchema())
	err := db.Read(context.Background(), func(tx *Tx) error {
		_, err := tx.Get("article", "a1")
		return err
	}, "user")
	assert.ErrorContains(t, err, "outside of transaction scope")
}

func TestTx_ErrorRollsBack(t *testing.T) {
	eachBackend(t, blogSchema, func(t *testing.T, db *DB) {
		ctx := context.Background()
		r := listen(t, db, Match{})
		err := db.Write(ctx, func(tx *Tx) error {
			if _, err := tx.Put("user", Record{"id": "u1"}); err != nil {
				return err
			}
			tx.enqueue(&Event{Kind: EventCreated, Type: "user", Key: "u1"})
			panic("boom")
		})
		assert.ErrorContains(t, err, "boom")
		assert.Nil(t, get(t, db, "user", "u1"))
		assert.Empty(t, r.take())
	})
}

func TestDB_Closed(t *testing.T) {
	db := setupMem(t, blogSchema())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Create(context.Background(), "user", map[string]any{"id": "u1"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = db.Query("user").Count(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_InvalidSchema(t *testing.T) {
	scm := NewSchema()
	scm.Define("post", func(b *TypeBuilder) {
		b.One("author", "person")
	})
	_, err := OpenMemory(scm, DefaultOptions())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := t.TempDir() + "/reopen.db"
	opt := testOptions(nil)
	db, err := Open(path, blogSchema(), opt)
	require.NoError(t, err)
	mustWrite(t, db, db.Create, "role", map[string]any{"label": "R"})
	require.NoError(t, db.Close())

	db, err = Open(path, blogSchema(), opt)
	require.NoError(t, err)
	defer db.Close()
	res := mustWrite(t, db, db.Create, "role", map[string]any{"label": "S"})
	assert.Equal(t, []any{int64(2)}, res.Keys)
	assert.Equal(t, 2, count(t, db, "role"))
}
