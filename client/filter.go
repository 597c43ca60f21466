package explorerclient

// Filter is a CQL2 (JSON encoding) expression for SearchParams.Filter.
type Filter map[string]any

func property(name string) map[string]any {
	return map[string]any{"property": name}
}

func binary(op, prop string, value any) Filter {
	return Filter{"op": op, "args": []any{property(prop), value}}
}

// Eq matches items whose property equals value.
func Eq(prop string, value any) Filter { return binary("=", prop, value) }

// Neq matches items whose property differs from value.
func Neq(prop string, value any) Filter { return binary("<>", prop, value) }

// Lt matches property < value.
func Lt(prop string, value any) Filter { return binary("<", prop, value) }

// Lte matches property <= value.
func Lte(prop string, value any) Filter { return binary("<=", prop, value) }

// Gt matches property > value.
func Gt(prop string, value any) Filter { return binary(">", prop, value) }

// Gte matches property >= value.
func Gte(prop string, value any) Filter { return binary(">=", prop, value) }

// Like matches property against a SQL pattern.
func Like(prop, pattern string) Filter { return binary("like", prop, pattern) }

// Timestamp wraps an RFC3339 instant as a CQL2 temporal literal.
func Timestamp(value string) map[string]any {
	return map[string]any{"timestamp": value}
}

// In matches property against a list of values.
func In(prop string, values ...any) Filter {
	return Filter{"op": "in", "args": []any{property(prop), values}}
}

// Between matches low <= property <= high.
func Between(prop string, low, high any) Filter {
	return Filter{"op": "between", "args": []any{property(prop), low, high}}
}

// IsNull matches items missing the property.
func IsNull(prop string) Filter {
	return Filter{"op": "isNull", "args": []any{property(prop)}}
}

// And combines filters conjunctively.
func And(filters ...Filter) Filter {
	return logical("and", filters)
}

// Or combines filters disjunctively.
func Or(filters ...Filter) Filter {
	return logical("or", filters)
}

// Not negates a filter.
func Not(f Filter) Filter {
	return Filter{"op": "not", "args": []any{f}}
}

func logical(op string, filters []Filter) Filter {
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			args = append(args, f)
		}
	}
	if len(args) == 1 {
		return args[0].(Filter)
	}
	return Filter{"op": op, "args": args}
}
