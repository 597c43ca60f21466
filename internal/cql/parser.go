package cql

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParseJSON parses a CQL2 JSON filter expression.
func ParseJSON(input []byte) (Expression, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(input, &raw); err != nil {
		return nil, err
	}
	return parseExpr(raw)
}

func parseExpr(data json.RawMessage) (Expression, error) {
	var node struct {
		Op   string            `json:"op"`
		Args []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, errors.New("cql: invalid expression format")
	}

	switch op := strings.ToLower(node.Op); op {
	case "and", "or":
		if len(node.Args) < 2 {
			return nil, fmt.Errorf("cql: %s requires at least 2 arguments", op)
		}
		// Fold n-ary and/or into a left-deep chain.
		expr, err := parseExpr(node.Args[0])
		if err != nil {
			return nil, err
		}
		for _, rawArg := range node.Args[1:] {
			right, err := parseExpr(rawArg)
			if err != nil {
				return nil, err
			}
			expr = &Logical{Operator: op, Left: expr, Right: right}
		}
		return expr, nil

	case "not":
		if len(node.Args) != 1 {
			return nil, errors.New("cql: not requires 1 argument")
		}
		inner, err := parseExpr(node.Args[0])
		if err != nil {
			return nil, err
		}
		return &Not{Expression: inner}, nil

	case "=", "<>", "<", "<=", ">", ">=", "like":
		if len(node.Args) != 2 {
			return nil, fmt.Errorf("cql: %s requires exactly 2 arguments", op)
		}
		left, err := parseArg(node.Args[0])
		if err != nil {
			return nil, err
		}
		right, err := parseArg(node.Args[1])
		if err != nil {
			return nil, err
		}
		return &Comparison{Operator: op, Left: left, Right: right}, nil

	case "between":
		if len(node.Args) != 3 {
			return nil, errors.New("cql: between requires 3 arguments")
		}
		prop, err := parseProperty(node.Args[0])
		if err != nil {
			return nil, err
		}
		low, err := parseLiteral(node.Args[1])
		if err != nil {
			return nil, err
		}
		high, err := parseLiteral(node.Args[2])
		if err != nil {
			return nil, err
		}
		return &Between{Property: prop, Low: low, High: high}, nil

	case "in":
		if len(node.Args) != 2 {
			return nil, errors.New("cql: in requires 2 arguments")
		}
		prop, err := parseProperty(node.Args[0])
		if err != nil {
			return nil, err
		}
		var rawValues []json.RawMessage
		if err := json.Unmarshal(node.Args[1], &rawValues); err != nil {
			return nil, errors.New("cql: in requires a value list")
		}
		values := make([]Literal, 0, len(rawValues))
		for _, rawValue := range rawValues {
			lit, err := parseLiteral(rawValue)
			if err != nil {
				return nil, err
			}
			values = append(values, lit)
		}
		return &In{Property: prop, Values: values}, nil

	case "isnull":
		if len(node.Args) != 1 {
			return nil, errors.New("cql: isNull requires 1 argument")
		}
		prop, err := parseProperty(node.Args[0])
		if err != nil {
			return nil, err
		}
		return &IsNull{Property: prop}, nil

	default:
		return nil, fmt.Errorf("cql: unsupported operator %q", node.Op)
	}
}

func parseArg(data json.RawMessage) (Expression, error) {
	var prop struct {
		Property string `json:"property"`
	}
	if err := json.Unmarshal(data, &prop); err == nil && prop.Property != "" {
		return Property{Name: prop.Property}, nil
	}
	return parseLiteral(data)
}

func parseProperty(data json.RawMessage) (Property, error) {
	var prop struct {
		Property string `json:"property"`
	}
	if err := json.Unmarshal(data, &prop); err != nil || prop.Property == "" {
		return Property{}, errors.New("cql: expected a property reference")
	}
	return Property{Name: prop.Property}, nil
}

func parseLiteral(data json.RawMessage) (Literal, error) {
	// CQL2 wraps temporal literals: {"timestamp": "..."} / {"date": "..."}.
	var wrapped struct {
		Timestamp string `json:"timestamp"`
		Date      string `json:"date"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if wrapped.Timestamp != "" {
			t, err := time.Parse(time.RFC3339, wrapped.Timestamp)
			if err != nil {
				return Literal{}, fmt.Errorf("cql: bad timestamp literal: %w", err)
			}
			return Literal{Value: t}, nil
		}
		if wrapped.Date != "" {
			t, err := time.Parse("2006-01-02", wrapped.Date)
			if err != nil {
				return Literal{}, fmt.Errorf("cql: bad date literal: %w", err)
			}
			return Literal{Value: t}, nil
		}
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return Literal{}, errors.New("cql: invalid literal")
	}
	switch value.(type) {
	case string, float64, bool, nil:
		return Literal{Value: value}, nil
	default:
		return Literal{}, errors.New("cql: unsupported literal type")
	}
}
