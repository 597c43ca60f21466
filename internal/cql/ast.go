// Package cql implements the subset of CQL2 (JSON encoding) accepted by
// the STAC search endpoint's filter parameter, and its translation to SQL
// over the summary store's spatial table.
package cql

// Expression is a node of a parsed CQL2 filter.
type Expression interface {
	isExpr()
}

// Property references a queryable item property.
type Property struct {
	Name string
}

func (Property) isExpr() {}

// Literal is a constant value: string, number, bool, or a timestamp
// wrapper decoded to time.Time.
type Literal struct {
	Value any
}

func (Literal) isExpr() {}

// Comparison applies a binary comparison operator.
type Comparison struct {
	Operator string // "=", "<>", "<", "<=", ">", ">=", "like"
	Left     Expression
	Right    Expression
}

func (Comparison) isExpr() {}

// Logical combines two expressions with "and" or "or".
type Logical struct {
	Operator string
	Left     Expression
	Right    Expression
}

func (Logical) isExpr() {}

// Not negates an expression.
type Not struct {
	Expression Expression
}

func (Not) isExpr() {}

// Between is the ternary range operator over a property.
type Between struct {
	Property Property
	Low      Literal
	High     Literal
}

func (Between) isExpr() {}

// In tests membership of a property in a literal list.
type In struct {
	Property Property
	Values   []Literal
}

func (In) isExpr() {}

// IsNull tests a property for null.
type IsNull struct {
	Property Property
}

func (IsNull) isExpr() {}
