package store

import (
	"strconv"
	"strings"
)

// Columns of the SQLite records table. Every reserved field except the
// owner set also lives in the document; the sidecar columns exist so the
// table can be keyed and indexed without parsing JSON.
const (
	colPK            = "pk"
	colSK            = "sk"
	colEntityType    = "entity_type"
	colCreatedAt     = "created_at"
	colUpdatedAt     = "updated_at"
	colGSI1PK        = "gsi1pk"
	colGSI1SK        = "gsi1sk"
	colGSI2PK        = "gsi2pk"
	colGSI2SK        = "gsi2sk"
	colRelationNames = "relation_names"
	colDocument      = "document"
)

var insertColumns = []string{
	colPK, colSK, colEntityType, colCreatedAt, colUpdatedAt,
	colGSI1PK, colGSI1SK, colGSI2PK, colGSI2SK, colRelationNames, colDocument,
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// jsonPath returns the SQLite JSON path to key, then into each nested key.
func jsonPath(key string, nested ...string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, k := range append([]string{key}, nested...) {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(k, `"`, `\"`))
		b.WriteString(`"`)
	}
	return b.String()
}

func params(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = ":" + prefix + "_" + strconv.Itoa(i)
	}
	return out
}

// schemaStatements returns the DDL creating table and its two indexes.
func schemaStatements(table, typeIndex, invertedIndex string) []string {
	t := quoteIdent(table)
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
	pk TEXT NOT NULL,
	sk TEXT NOT NULL,
	entity_type TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	gsi1pk TEXT,
	gsi1sk TEXT,
	gsi2pk TEXT,
	gsi2sk TEXT,
	relation_names TEXT NOT NULL DEFAULT '[]',
	document TEXT NOT NULL,
	PRIMARY KEY (pk, sk)
)`,
		`CREATE INDEX IF NOT EXISTS ` + quoteIdent(table+"_"+typeIndex) + ` ON ` + t + ` (gsi1pk, gsi1sk)`,
		`CREATE INDEX IF NOT EXISTS ` + quoteIdent(table+"_"+invertedIndex) + ` ON ` + t + ` (gsi2pk, gsi2sk)`,
	}
}

// sqlInsert inserts a full row. With replace an existing row is overwritten,
// otherwise the primary key rejects it.
func sqlInsert(table string, replace bool) string {
	verb := "INSERT INTO "
	if replace {
		verb = "INSERT OR REPLACE INTO "
	}
	values := make([]string, len(insertColumns))
	for i, c := range insertColumns {
		values[i] = ":" + c
	}
	return verb + quoteIdent(table) + " (" + strings.Join(insertColumns, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")"
}

// patchedDocument is the document with the :clear keys nulled out and
// :document merged over it. Nulling first replaces values outright instead
// of deep-merging nested maps.
const patchedDocument = "json_patch(json_patch(document, :clear), :document)"

// sqlAddNumbers is the SQL function adding two number strings exactly. It
// is registered with the driver in local_exec.go.
const sqlAddNumbers = "weave_add_numbers"

// incrementedDocument wraps doc so each of n increments adds :inc_i to the
// number at :inc_num_path_i, treating a missing number as zero.
func incrementedDocument(doc string, n int) string {
	if n == 0 {
		return doc
	}
	var b strings.Builder
	b.WriteString("json_set(")
	b.WriteString(doc)
	for i := 0; i < n; i++ {
		s := strconv.Itoa(i)
		b.WriteString(", :inc_path_" + s +
			", json_object('N', " + sqlAddNumbers + "(json_extract(document, :inc_num_path_" + s + "), :inc_" + s + "))")
	}
	b.WriteString(")")
	return b.String()
}

// sqlUpdateDocument patches the document of an existing row, sets the given
// sidecar columns from same-named parameters and applies n increments.
func sqlUpdateDocument(table string, columns []string, increments int, owner string) string {
	sets := []string{colDocument + " = " + incrementedDocument(patchedDocument, increments)}
	for _, c := range columns {
		sets = append(sets, c+" = :"+c)
	}
	sets = append(sets, colUpdatedAt+" = :"+colUpdatedAt)
	return "UPDATE " + quoteIdent(table) + " SET " + strings.Join(sets, ", ") +
		" WHERE pk = :pk AND sk = :sk" + owner
}

// sqlDeleteByIDs deletes one row.
func sqlDeleteByIDs(table, owner string) string {
	return "DELETE FROM " + quoteIdent(table) + " WHERE pk = :pk AND sk = :sk" + owner
}

// sqlInsertRelation upserts a relation copy with n names. On conflict it
// keeps the stored creation time, unions the names, and unions the owners.
// An empty owner union leaves the owner set out of the document, as DynamoDB
// has no empty sets.
func sqlInsertRelation(table string, n int) string {
	t := quoteIdent(table)
	values := make([]string, len(insertColumns))
	for i, c := range insertColumns {
		values[i] = ":" + c
	}
	values[len(values)-2] = "json_array(" + strings.Join(params("to_add", n), ", ") + ")"

	owners := "(SELECT json_group_array(value) FROM (" +
		"SELECT value FROM json_each(" + t + ".document, :owned_by_ss_path) UNION SELECT value FROM json_each(excluded.document, :owned_by_ss_path)))"
	created := "json_set(excluded.document, :created_at_path, json_object('S', " + t + ".created_at))"

	return "INSERT INTO " + t + " (" + strings.Join(insertColumns, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")" +
		" ON CONFLICT (pk, sk) DO UPDATE SET" +
		" entity_type = excluded.entity_type," +
		" updated_at = excluded.updated_at," +
		" gsi1pk = excluded.gsi1pk, gsi1sk = excluded.gsi1sk," +
		" gsi2pk = excluded.gsi2pk, gsi2sk = excluded.gsi2sk," +
		" relation_names = (SELECT json_group_array(value) FROM (" +
		"SELECT value FROM json_each(" + t + ".relation_names) UNION SELECT value FROM json_each(excluded.relation_names)))," +
		" document = CASE WHEN json_array_length(" + owners + ") = 0" +
		" THEN json_remove(" + created + ", :owned_by_path)" +
		" ELSE json_set(" + created + ", :owned_by_path, json_object('SS', json(" + owners + "))) END"
}

// relationNamesWithout is the name set minus n :to_remove parameters.
func relationNamesWithout(table string, n int) string {
	return "(SELECT json_group_array(value) FROM json_each(" + quoteIdent(table) + ".relation_names) WHERE value NOT IN (" +
		strings.Join(params("to_remove", n), ", ") + "))"
}

// sqlDeleteRelations removes n names from a relation row.
func sqlDeleteRelations(table string, n int, owner string) string {
	return "UPDATE " + quoteIdent(table) + " SET" +
		" relation_names = " + relationNamesWithout(table, n) + "," +
		" document = json_patch(document, :document)," +
		" updated_at = :updated_at" +
		" WHERE pk = :pk AND sk = :sk" + owner
}

// sqlUpdateWithRelations patches a relation row, removing `remove` names and
// adding `add` names.
func sqlUpdateWithRelations(table string, remove, add int, owner string) string {
	sets := []string{colDocument + " = " + patchedDocument}
	if remove > 0 || add > 0 {
		var b strings.Builder
		b.WriteString("(SELECT json_group_array(value) FROM (SELECT value FROM json_each(")
		b.WriteString(quoteIdent(table))
		b.WriteString(".relation_names)")
		if remove > 0 {
			b.WriteString(" WHERE value NOT IN (" + strings.Join(params("to_remove", remove), ", ") + ")")
		}
		if add > 0 {
			b.WriteString(" UNION SELECT value FROM json_each(json_array(" + strings.Join(params("to_add", add), ", ") + "))")
		}
		b.WriteString("))")
		sets = append(sets, colRelationNames+" = "+b.String())
	}
	sets = append(sets, colUpdatedAt+" = :"+colUpdatedAt)
	return "UPDATE " + quoteIdent(table) + " SET " + strings.Join(sets, ", ") +
		" WHERE pk = :pk AND sk = :sk" + owner
}
