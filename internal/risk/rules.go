package risk

import "regexp"

// rule maps an operation pattern to its classification. Tables are ordered
// highest precedence first; the first matching rule claims the statement.
type rule struct {
	re       *regexp.Regexp
	name     string
	category Category
	risk     Level
	detail   string
}

var sqlRules = []rule{
	{regexp.MustCompile(`(?is)^\s*DROP\s+DATABASE\b`), "DROP DATABASE", CategoryDDL, Critical, "destroys an entire database"},
	{regexp.MustCompile(`(?is)^\s*DROP\s+SCHEMA\b`), "DROP SCHEMA", CategoryDDL, Critical, "destroys a schema and its objects"},
	{regexp.MustCompile(`(?is)^\s*DROP\s+TABLE\b`), "DROP TABLE", CategoryDDL, Critical, "destroys a table and its data"},
	{regexp.MustCompile(`(?is)^\s*TRUNCATE\b`), "TRUNCATE", CategoryDDL, Critical, "removes all rows without logging individual deletes"},
	{regexp.MustCompile(`(?is)^\s*DELETE\s+FROM\b.*\bWHERE\b`), "DELETE", CategoryDelete, High, "row deletion constrained by a WHERE clause"},
	{regexp.MustCompile(`(?is)^\s*DELETE\b`), "DELETE", CategoryDelete, Critical, "DELETE without a WHERE clause affects every row"},
	{regexp.MustCompile(`(?is)^\s*UPDATE\b.*\bWHERE\b`), "UPDATE", CategoryWrite, High, "row mutation constrained by a WHERE clause"},
	{regexp.MustCompile(`(?is)^\s*UPDATE\b`), "UPDATE", CategoryWrite, Critical, "UPDATE without a WHERE clause affects every row"},
	{regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\b.*\bDROP\b`), "ALTER TABLE DROP", CategoryDDL, High, "removes a column or constraint"},
	{regexp.MustCompile(`(?is)^\s*ALTER\s+TABLE\b.*\b(ADD|RENAME)\b`), "ALTER TABLE", CategoryDDL, Low, "additive or renaming schema change"},
	{regexp.MustCompile(`(?is)^\s*ALTER\b`), "ALTER", CategoryDDL, Medium, "structural schema change"},
	{regexp.MustCompile(`(?is)^\s*DROP\s+INDEX\b`), "DROP INDEX", CategoryIndex, Medium, "removes an index"},
	{regexp.MustCompile(`(?is)^\s*CREATE\s+(UNIQUE\s+)?INDEX\b`), "CREATE INDEX", CategoryIndex, Medium, "index build can lock or load the table"},
	{regexp.MustCompile(`(?is)^\s*REINDEX\b`), "REINDEX", CategoryIndex, Medium, "index rebuild can lock or load the table"},
	{regexp.MustCompile(`(?is)^\s*CREATE\s+(TABLE|VIEW|MATERIALIZED\s+VIEW|SCHEMA|DATABASE|SEQUENCE)\b`), "CREATE", CategoryDDL, Low, "creates a new object"},
	{regexp.MustCompile(`(?is)^\s*(GRANT|REVOKE)\b`), "GRANT/REVOKE", CategoryAdmin, High, "changes privileges"},
	{regexp.MustCompile(`(?is)^\s*INSERT\b`), "INSERT", CategoryWrite, Low, "adds rows"},
	{regexp.MustCompile(`(?is)^\s*(SELECT|WITH)\b.*\bFOR\s+UPDATE\b`), "SELECT FOR UPDATE", CategoryRead, Low, "read acquires row locks"},
	{regexp.MustCompile(`(?is)^\s*(SELECT|WITH|EXPLAIN|SHOW|TABLE)\b`), "SELECT", CategoryRead, Safe, "pure read"},
}

var mongoRules = []rule{
	{regexp.MustCompile(`\.dropDatabase\s*\(`), "dropDatabase", CategoryDDL, Critical, "destroys an entire database"},
	{regexp.MustCompile(`\.drop\s*\(`), "drop", CategoryDDL, Critical, "destroys a collection and its documents"},
	{regexp.MustCompile(`\.(deleteMany|remove)\s*\(\s*(\{\s*\})?\s*[\),]`), "deleteMany", CategoryDelete, Critical, "empty filter deletes every document"},
	{regexp.MustCompile(`\.(deleteMany|remove)\s*\(`), "deleteMany", CategoryDelete, High, "bulk deletion constrained by a filter"},
	{regexp.MustCompile(`\.(deleteOne|findOneAndDelete)\s*\(`), "deleteOne", CategoryDelete, High, "single-document deletion"},
	{regexp.MustCompile(`\.updateMany\s*\(\s*\{\s*\}`), "updateMany", CategoryWrite, Critical, "empty filter updates every document"},
	{regexp.MustCompile(`\.updateMany\s*\(`), "updateMany", CategoryWrite, High, "bulk mutation constrained by a filter"},
	{regexp.MustCompile(`\.(updateOne|replaceOne|findOneAndUpdate|findOneAndReplace|bulkWrite)\s*\(`), "updateOne", CategoryWrite, High, "single-document mutation"},
	{regexp.MustCompile(`\.renameCollection\s*\(`), "renameCollection", CategoryDDL, Medium, "renames a collection"},
	{regexp.MustCompile(`\.(createIndex|createIndexes|dropIndex|dropIndexes|reIndex)\s*\(`), "index", CategoryIndex, Medium, "index change can lock or load the collection"},
	{regexp.MustCompile(`\.createCollection\s*\(`), "createCollection", CategoryDDL, Low, "creates a new collection"},
	{regexp.MustCompile(`\.(insertOne|insertMany|save)\s*\(`), "insert", CategoryWrite, Low, "adds documents"},
	{regexp.MustCompile(`\.aggregate\s*\(.*\$(out|merge)\b`), "aggregate $out", CategoryWrite, High, "aggregation writes to a collection"},
	{regexp.MustCompile(`\.(find|findOne|countDocuments|estimatedDocumentCount|distinct|aggregate|getIndexes|stats)\s*\(`), "find", CategoryRead, Safe, "pure read"},
}

// Cross-cutting warning patterns, applied to the whole submission
// independently of the primary classification.
var (
	cascadeRe     = regexp.MustCompile(`(?i)\bCASCADE\b`)
	jsPredicateRe = regexp.MustCompile(`\$where`)
	limitRe       = regexp.MustCompile(`(?i)\bLIMIT\s+\d`)
	selectRe      = regexp.MustCompile(`(?is)^\s*SELECT\b`)
	whereRe       = regexp.MustCompile(`(?i)\bWHERE\b`)
	emptyFilterRe = regexp.MustCompile(`\.(deleteMany|updateMany|remove)\s*\(\s*(\{\s*\})?\s*[\),]`)
	mongoCallRe   = regexp.MustCompile(`(?m)^\s*db\.`)
)
