package sqlstore

import (
	"fmt"
	"strings"

	"github.com/drblury/cidflow/internal/runtime/search"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// compile renders e as a WHERE clause with "?" placeholders. Field names
// must belong to columns.
func compile(e search.Expr, columns map[string]struct{}) (string, []any, error) {
	switch node := e.(type) {
	case nil:
		return "", nil, nil
	case search.Cond:
		if _, ok := columns[node.Field]; !ok {
			return "", nil, fmt.Errorf("sqlstore: %q is not a searchable column", node.Field)
		}
		col := quoteIdent(node.Field)
		switch node.Lookup {
		case search.StartsWith:
			return fmt.Sprintf(`CAST(%s AS TEXT) ILIKE ? ESCAPE '\'`, col), []any{likeEscaper.Replace(node.Value) + "%"}, nil
		case search.Exact:
			return fmt.Sprintf("LOWER(CAST(%s AS TEXT)) = LOWER(?)", col), []any{node.Value}, nil
		case search.FullText:
			return fmt.Sprintf("to_tsvector(CAST(%s AS TEXT)) @@ plainto_tsquery(?)", col), []any{node.Value}, nil
		case search.Regex:
			return fmt.Sprintf("CAST(%s AS TEXT) ~* ?", col), []any{node.Value}, nil
		default:
			return fmt.Sprintf(`CAST(%s AS TEXT) ILIKE ? ESCAPE '\'`, col), []any{"%" + likeEscaper.Replace(node.Value) + "%"}, nil
		}
	case search.Any:
		return join(node, " OR ", "FALSE", columns)
	case search.All:
		return join(node, " AND ", "TRUE", columns)
	default:
		return "", nil, fmt.Errorf("sqlstore: unsupported expression %T", e)
	}
}

func join(children []search.Expr, op, empty string, columns map[string]struct{}) (string, []any, error) {
	if len(children) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(children))
	var args []any
	for _, child := range children {
		clause, childArgs, err := compile(child, columns)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, clause)
		args = append(args, childArgs...)
	}
	if len(parts) == 1 {
		return parts[0], args, nil
	}
	return "(" + strings.Join(parts, op) + ")", args, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
