package ndb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapReader map[string]Record

func (m mapReader) Get(typ string, key any) (Record, error) {
	return m[typ+"/"+keyString(key)], nil
}

func readerOf(scm *Schema, nd *NormalizedData) mapReader {
	m := make(mapReader)
	for typ, recs := range nd.Records {
		for _, rec := range recs {
			m[typ+"/"+keyString(rec[scm.Config(typ).KeyField])] = rec
		}
	}
	return m
}

func TestNormalize_NestedGraph(t *testing.T) {
	scm := blogSchema()
	n := NewNormalizer(scm, nil)
	nd, err := n.Normalize("article", []Record{{
		"id":     "a1",
		"title":  "T",
		"author": map[string]any{"id": "u1", "name": "A"},
		"comments": []any{
			map[string]any{"id": "c1", "text": "x", "author": map[string]any{"id": "u1"}},
			"c2",
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, []Record{{"id": "a1", "title": "T", "author": "u1", "comments": []any{"c1", "c2"}}}, nd.Records["article"])
	assert.Equal(t, []Record{{"id": "c1", "text": "x", "author": "u1"}}, nd.Records["comment"])
	assert.Equal(t, []Record{{"id": "u1", "name": "A"}}, nd.Records["user"])

	assert.Equal(t, []LocalRef{{"user", 0}, {"comment", 0}, {"article", 0}}, nd.Order)
	assert.Equal(t, []LocalRef{{"article", 0}}, nd.Roots)
	assert.Equal(t, []string{"user", "comment", "article"}, nd.Types())
}

func TestNormalize_DenormalizeRoundTrip(t *testing.T) {
	scm := blogSchema()
	input := map[string]any{
		"id":     "a1",
		"title":  "T",
		"author": map[string]any{"id": "u1", "name": "A"},
		"comments": []any{
			map[string]any{"id": "c1", "text": "x", "author": map[string]any{"id": "u1", "name": "A"}},
			map[string]any{"id": "c2", "text": "y", "author": map[string]any{"id": "u2", "name": "B"}},
		},
	}
	nd, err := NewNormalizer(scm, nil).Normalize("article", []Record{input})
	require.NoError(t, err)

	root := nd.Record(nd.Roots[0])
	obj, err := NewDenormalizer(scm).Denormalize(readerOf(scm, nd), "article", root, 2)
	require.NoError(t, err)
	assert.Equal(t, Object(input), obj)
}

func TestNormalize_MergesSameKey(t *testing.T) {
	nd, err := NewNormalizer(blogSchema(), nil).Normalize("user", []Record{
		{"id": "u1", "name": "A"},
		{"id": "u1", "age": 3},
		{"id": "u2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Record{{"id": "u1", "name": "A", "age": 3}, {"id": "u2"}}, nd.Records["user"])
	assert.Equal(t, []LocalRef{{"user", 0}, {"user", 1}}, nd.Roots)
}

func TestNormalize_DedupesArrayKeys(t *testing.T) {
	nd, err := NewNormalizer(blogSchema(), nil).Normalize("article", []Record{{
		"id":       "a1",
		"comments": []any{"c1", "c1", map[string]any{"id": "c1"}, 2.0, int64(2)},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{"c1", int64(2)}, nd.Records["article"][0]["comments"])
}

func TestNormalize_IgnoresCallerRefs(t *testing.T) {
	nd, err := NewNormalizer(blogSchema(), nil).Normalize("article", []Record{{
		"id":      "a1",
		RefsField: map[string]any{"user": []any{"u9"}},
		"author":  map[string]any{"id": "u1"},
	}})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": "a1", "author": "u1"}, nd.Records["article"][0])
	assert.Equal(t, Record{"id": "u1"}, nd.Records["user"][0], "reverse references are left to the writer")
}

func TestNormalize_AutoKeyPlaceholders(t *testing.T) {
	scm := blogSchema()
	nd, err := NewNormalizer(scm, nil).Normalize("user", []Record{
		{"id": "u1", "role": map[string]any{"label": "R"}},
	})
	require.NoError(t, err)

	role := LocalRef{"role", 0}
	user := nd.Record(LocalRef{"user", 0})
	assert.Equal(t, role, user["role"])
	assert.Equal(t, Record{"label": "R"}, nd.Record(role))
	assert.Equal(t, []LocalRef{role, {"user", 0}}, nd.Order)

	nd.resolve(scm, map[LocalRef]any{role: int64(5)})
	assert.Equal(t, int64(5), user["role"])
}

func TestNormalize_KeyGenerator(t *testing.T) {
	scm := blogSchema()

	_, err := NewNormalizer(scm, nil).Normalize("user", []Record{{"name": "A"}})
	assert.ErrorIs(t, err, ErrMissingKey)

	nd, err := NewNormalizer(scm, SequenceKeys("t-")).Normalize("user", []Record{{"name": "A"}, {"name": "B"}})
	require.NoError(t, err)
	assert.Equal(t, "t-user-1", nd.Records["user"][0]["id"])
	assert.Equal(t, "t-user-2", nd.Records["user"][1]["id"])

	boom := errors.New("boom")
	_, err = NewNormalizer(scm, KeyGeneratorFunc(func(string) (any, error) { return nil, boom })).Normalize("user", []Record{{"name": "A"}})
	assert.ErrorIs(t, err, boom)
}

func TestNormalize_TypeMismatch(t *testing.T) {
	n := NewNormalizer(blogSchema(), nil)

	_, err := n.Normalize("article", []Record{{"id": "a1", "comments": "c1"}})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = n.Normalize("article", []Record{{"id": "a1", "author": []any{"u1"}}})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	var re *RecordError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "article", re.Type)
	assert.Equal(t, "author", re.Field)
}

func TestNormalize_InvalidKeys(t *testing.T) {
	n := NewNormalizer(blogSchema(), nil)

	_, err := n.Normalize("article", []Record{{"id": "a1", "author": true}})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = n.Normalize("article", []Record{{"id": 1.5}})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = n.Normalize("nope", []Record{{"id": "x"}})
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestNormalize_NullRelation(t *testing.T) {
	nd, err := NewNormalizer(blogSchema(), nil).Normalize("article", []Record{{"id": 7.0, "author": nil}})
	require.NoError(t, err)
	assert.Equal(t, Record{"id": int64(7), "author": nil}, nd.Records["article"][0])
}

func TestToItems(t *testing.T) {
	items, err := toItems(map[string]any{"id": "a"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = toItems([]map[string]any{{"id": "a"}, {"id": "b"}})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	for _, bad := range []any{nil, []any{}, "x", []any{1}, []any{nil}, map[string]any(nil)} {
		_, err := toItems(bad)
		assert.ErrorIs(t, err, ErrEmptyInput, "input %#v", bad)
	}
}

func TestDenormalize_Depth(t *testing.T) {
	scm := blogSchema()
	r := mapReader{
		`article/"a1"`: {"id": "a1", "author": "u1", "comments": []any{"c1", "c9"}},
		`comment/"c1"`: {"id": "c1", "author": "u1", RefsField: Refs{"article": {"a1"}}},
		`user/"u1"`:    {"id": "u1", "role": int64(1)},
		`role/1`:       {"id": int64(1), "label": "R"},
	}
	d := NewDenormalizer(scm)
	a1 := r[`article/"a1"`]

	obj, err := d.Denormalize(r, "article", a1, 0)
	require.NoError(t, err)
	assert.Equal(t, Object{"id": "a1", "author": "u1", "comments": []any{"c1", "c9"}}, obj)

	obj, err = d.Denormalize(r, "article", a1, 1)
	require.NoError(t, err)
	assert.Equal(t, Object{
		"id":       "a1",
		"author":   Object{"id": "u1", "role": int64(1)},
		"comments": []any{Object{"id": "c1", "author": "u1"}, "c9"},
	}, obj)

	obj, err = d.Denormalize(r, "article", a1, 3)
	require.NoError(t, err)
	assert.Equal(t, Object{"id": "u1", "role": Object{"id": int64(1), "label": "R"}}, obj["author"])
	assert.Equal(t, []any{"c1", "c9"}, a1["comments"], "source record stays untouched")
}
