package core

import "testing"

func TestUpsertStatement(t *testing.T) {
	tests := []struct {
		name       string
		adapter    Adapter
		withVector bool
		want       string
	}{
		{
			"sqlite plain",
			&SQLiteAdapter{},
			false,
			"INSERT INTO documents (id, content, name, metadata) VALUES (?, ?, ?, ?) " +
				"ON CONFLICT (id) DO UPDATE SET content = excluded.content, name = excluded.name, metadata = excluded.metadata",
		},
		{
			"sqlite with vector",
			&SQLiteAdapter{},
			true,
			"INSERT INTO documents (id, content, name, metadata, embedding) VALUES (?, ?, ?, ?, ?) " +
				"ON CONFLICT (id) DO UPDATE SET content = excluded.content, name = excluded.name, metadata = excluded.metadata, " +
				"embedding = excluded.embedding",
		},
		{
			"postgres plain",
			&PostgresAdapter{},
			false,
			"INSERT INTO documents (id, content, name, metadata, tsvector) VALUES ($1, $2, $3, $4, to_tsvector('simple', $2)) " +
				"ON CONFLICT (id) DO UPDATE SET content = excluded.content, name = excluded.name, metadata = excluded.metadata, " +
				"tsvector = excluded.tsvector",
		},
		{
			"postgres with vector",
			&PostgresAdapter{},
			true,
			"INSERT INTO documents (id, content, name, metadata, tsvector, embedding) VALUES ($1, $2, $3, $4, to_tsvector('simple', $2), $5) " +
				"ON CONFLICT (id) DO UPDATE SET content = excluded.content, name = excluded.name, metadata = excluded.metadata, " +
				"tsvector = excluded.tsvector, embedding = excluded.embedding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := upsertStatement(tt.adapter, tt.withVector)
			if got != tt.want {
				t.Errorf("upsertStatement =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}
