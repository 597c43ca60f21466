package cql

import (
	"fmt"
	"strings"
)

// Queryables maps STAC property names to the spatial-table columns the
// search endpoint allows filtering on. Anything else is rejected rather
// than interpolated.
var Queryables = map[string]string{
	"id":            "sp.id",
	"collection":    "pt.name",
	"datetime":      "sp.center_time",
	"created":       "sp.creation_time",
	"creation_time": "sp.creation_time",
	"region_code":   "sp.region_code",
	"size_bytes":    "sp.size_bytes",
}

// ToSQL renders a parsed filter as a SQL condition with `?` placeholders
// and the matching argument list.
func ToSQL(expr Expression) (string, []any, error) {
	t := &sqlTranslator{}
	clause, err := t.translate(expr)
	if err != nil {
		return "", nil, err
	}
	return clause, t.args, nil
}

type sqlTranslator struct {
	args []any
}

func (t *sqlTranslator) translate(expr Expression) (string, error) {
	switch n := expr.(type) {
	case *Logical:
		left, err := t.translate(n.Left)
		if err != nil {
			return "", err
		}
		right, err := t.translate(n.Right)
		if err != nil {
			return "", err
		}
		op := strings.ToUpper(n.Operator)
		return fmt.Sprintf("(%s %s %s)", left, op, right), nil

	case *Not:
		inner, err := t.translate(n.Expression)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT %s", inner), nil

	case *Comparison:
		return t.comparison(n)

	case *Between:
		column, err := t.column(n.Property)
		if err != nil {
			return "", err
		}
		t.args = append(t.args, n.Low.Value, n.High.Value)
		return fmt.Sprintf("%s BETWEEN ? AND ?", column), nil

	case *In:
		column, err := t.column(n.Property)
		if err != nil {
			return "", err
		}
		if len(n.Values) == 0 {
			return "FALSE", nil
		}
		placeholders := make([]string, len(n.Values))
		for i, v := range n.Values {
			t.args = append(t.args, v.Value)
			placeholders[i] = "?"
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), nil

	case *IsNull:
		column, err := t.column(n.Property)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IS NULL", column), nil

	default:
		return "", fmt.Errorf("cql: unsupported expression %T", expr)
	}
}

func (t *sqlTranslator) comparison(n *Comparison) (string, error) {
	// One side must be a property, the other a literal.
	prop, propOK := n.Left.(Property)
	lit, litOK := n.Right.(Literal)
	flipped := false
	if !propOK {
		if prop, propOK = n.Right.(Property); !propOK {
			return "", fmt.Errorf("cql: comparison requires a property operand")
		}
		if lit, litOK = n.Left.(Literal); !litOK {
			return "", fmt.Errorf("cql: comparison requires a literal operand")
		}
		flipped = true
	} else if !litOK {
		return "", fmt.Errorf("cql: comparison requires a literal operand")
	}

	column, err := t.column(prop)
	if err != nil {
		return "", err
	}

	op := sqlOperator(n.Operator)
	if flipped {
		op = flipOperator(op)
	}

	// "id = ?" needs a uuid cast since the column is uuid-typed.
	if column == Queryables["id"] {
		t.args = append(t.args, lit.Value)
		return fmt.Sprintf("%s %s ?::uuid", column, op), nil
	}

	t.args = append(t.args, lit.Value)
	return fmt.Sprintf("%s %s ?", column, op), nil
}

func (t *sqlTranslator) column(p Property) (string, error) {
	column, ok := Queryables[p.Name]
	if !ok {
		return "", fmt.Errorf("cql: property %q is not queryable", p.Name)
	}
	return column, nil
}

func sqlOperator(op string) string {
	switch op {
	case "like":
		return "LIKE"
	default:
		return op
	}
}

func flipOperator(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	default:
		return op
	}
}
