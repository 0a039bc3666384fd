package store

import (
	_ "embed"
	"strings"
)

//go:embed schema.sql
var ddlFile string

// ddlStatements returns the CREATE TABLE / INDEX statements from schema.sql,
// split on semicolons with comments and blank fragments dropped.
func ddlStatements() []string {
	var out []string
	for _, p := range strings.Split(ddlFile, ";") {
		stmt := strings.TrimSpace(p)
		for strings.HasPrefix(stmt, "--") {
			if i := strings.IndexByte(stmt, '\n'); i >= 0 {
				stmt = strings.TrimSpace(stmt[i+1:])
			} else {
				stmt = ""
			}
		}
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
