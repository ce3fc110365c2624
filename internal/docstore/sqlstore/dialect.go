package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect holds the SQL that differs between SQLite and Postgres.
type Dialect struct {
	Name string
	// Schema creates the documents table.
	Schema string
	// ForUpdate is appended to the row read inside write transactions.
	ForUpdate string

	rebind    func(q string) string
	fieldExpr func(param string) string
}

// SQLite stores bodies as JSON text and relies on a single connection for
// write serialization.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: `CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    body       TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection, id)
)`,
	rebind:    func(q string) string { return q },
	fieldExpr: func(p string) string { return "json_extract(body, '$.' || " + p + ")" },
}

// Postgres stores bodies as JSONB and locks rows with FOR UPDATE.
var Postgres = Dialect{
	Name: "postgres",
	Schema: `CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    body       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
)`,
	ForUpdate: " FOR UPDATE",
	rebind:    dollarParams,
	fieldExpr: func(p string) string { return "(body->>" + p + "::text)" },
}

// dollarParams rewrites ? placeholders to $1..$n.
func dollarParams(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	selectDocSQL = `SELECT body FROM documents WHERE collection = ? AND id = ?`
	upsertDocSQL = `INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = CURRENT_TIMESTAMP`
	insertDocSQL      = `INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`
	insertEmptyDocSQL = `INSERT INTO documents (collection, id, body) VALUES (?, ?, '{}') ON CONFLICT (collection, id) DO NOTHING`
	deleteDocSQL      = `DELETE FROM documents WHERE collection = ? AND id = ?`
	selectCollSQL     = `SELECT id, body FROM documents WHERE collection = ?`
)

func (d Dialect) q(query string) string { return d.rebind(query) }

// queryFor builds the filtered collection read. Field names travel as bind
// parameters.
func (d Dialect) queryFor(collection string, where []filterArg) (string, []any) {
	var b strings.Builder
	b.WriteString(selectCollSQL)
	args := []any{collection}
	for _, f := range where {
		b.WriteString(" AND ")
		b.WriteString(d.fieldExpr("?"))
		b.WriteString(" = ?")
		args = append(args, f.path, f.value)
	}
	return d.rebind(b.String()), args
}

type filterArg struct {
	path  string
	value string
}
