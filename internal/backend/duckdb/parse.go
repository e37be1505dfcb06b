package duckdb

import "strings"

// parseIndexColumns extracts column names from a CREATE INDEX SQL statement.
// Example: `CREATE INDEX idx ON tbl ("col1", col2)` -> ["col1", "col2"]
func parseIndexColumns(sqlStr string) []string {
	if sqlStr == "" {
		return nil
	}
	start := strings.LastIndex(sqlStr, "(")
	end := strings.LastIndex(sqlStr, ")")
	if start < 0 || end <= start {
		return nil
	}
	inner := sqlStr[start+1 : end]
	var cols []string
	for _, p := range strings.Split(inner, ",") {
		col := strings.Trim(strings.TrimSpace(p), `"`)
		if col != "" {
			cols = append(cols, col)
		}
	}
	return cols
}
