package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
	}{
		{"ints", int64(1), int64(3), -1},
		{"mixed numeric", 3, float64(2), 1},
		{"json number", json.Number("7"), int64(7), 0},
		{"strings", "a", "b", -1},
		{"bytes vs string", []byte("x"), "x", 0},
		{"nil first", nil, int64(0), -1},
		{"both nil", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestSortDocumentsStable(t *testing.T) {
	docs := []Document{
		{"v": int64(1), "n": "a"},
		{"v": int64(3), "n": "b"},
		{"v": int64(2), "n": "c"},
		{"v": int64(1), "n": "d"},
	}
	SortDocuments(docs, "v", true)
	var names []string
	for _, d := range docs {
		names = append(names, d["n"].(string))
	}
	assert.Equal(t, []string{"a", "d", "c", "b"}, names)

	SortDocuments(docs, "v", false)
	assert.Equal(t, int64(3), docs[0]["v"])
}

func TestTableSpecValidate(t *testing.T) {
	ok := TableSpec{Name: "migrations_registry", Fields: []Field{{Name: "migration_id", Unique: true}}}
	assert.NoError(t, ok.Validate())
	assert.Equal(t, []string{"migration_id"}, ok.UniqueFields())

	bad := []TableSpec{
		{Name: "drop table;"},
		{Name: "t", Fields: []Field{{Name: "1abc"}}},
		{Name: "t", Fields: []Field{{Name: KeyField}}},
		{Name: "t", Fields: []Field{{Name: "a"}, {Name: "a"}}},
	}
	for _, s := range bad {
		err := s.Validate()
		assert.True(t, errors.Is(err, ErrInvalidIdentifier), "spec %+v", s)
	}
}

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "k1", Document{KeyField: "k1"}.Key())
	assert.Equal(t, "", Document{}.Key())
}
