package core

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// queryBuilder assembles a single retrieval statement: select list, from
// clause, predicate list, order-by terms and pagination slots. All
// user-supplied values go through bind; only the pre-validated collection
// name and trusted metadata keys are interpolated.
type queryBuilder struct {
	adapter Adapter
	selects []string
	from    string
	preds   []string
	orders  []string
	args    []any
}

func newQueryBuilder(adapter Adapter) *queryBuilder {
	return &queryBuilder{adapter: adapter}
}

// bind registers a parameter value and returns its placeholder token.
func (b *queryBuilder) bind(value any) string {
	b.args = append(b.args, value)
	return b.adapter.Placeholder(len(b.args))
}

func (b *queryBuilder) addSelect(expr string)    { b.selects = append(b.selects, expr) }
func (b *queryBuilder) addPredicate(expr string) { b.preds = append(b.preds, expr) }
func (b *queryBuilder) addOrder(expr string)     { b.orders = append(b.orders, expr) }

// SQL renders the assembled statement. Limit and offset are appended as
// bound parameters when positive; callers that rank in memory pass zero for
// both.
func (b *queryBuilder) SQL(limit, offset int) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)
	if len(b.preds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.preds, " AND "))
	}
	if len(b.orders) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orders, ", "))
	}
	if limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.bind(limit))
	}
	if offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(b.bind(offset))
	}
	return sb.String()
}

// validateWhere rejects operator expressions using anything outside the
// recognized operator set. Called before any SQL is assembled so a bad
// filter never reaches the backend.
func validateWhere(where map[string]any) error {
	for key, value := range where {
		expr, ok := value.(map[string]any)
		if !ok {
			continue
		}
		for op := range expr {
			if _, ok := comparisonOps[op]; ok {
				continue
			}
			if op == opIn || op == opNin {
				continue
			}
			return fmt.Errorf("%w: %q on key %q", ErrUnknownOperator, op, key)
		}
	}
	return nil
}

// addWhere appends one predicate per metadata filter entry. Keys are walked
// in sorted order so the generated SQL is deterministic.
func (b *queryBuilder) addWhere(where map[string]any) error {
	keys := make([]string, 0, len(where))
	for key := range where {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch value := where[key].(type) {
		case map[string]any:
			if err := b.addOperatorExpr(key, value); err != nil {
				return err
			}
		default:
			b.addComparison(key, "=", value)
		}
	}
	return nil
}

// addOperatorExpr renders an operator-expression filter entry.
func (b *queryBuilder) addOperatorExpr(key string, expr map[string]any) error {
	ops := make([]string, 0, len(expr))
	for op := range expr {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		value := expr[op]
		switch op {
		case opIn:
			if err := b.addMembership(key, value, false); err != nil {
				return err
			}
		case opNin:
			if err := b.addMembership(key, value, true); err != nil {
				return err
			}
		default:
			sqlOp, ok := comparisonOps[op]
			if !ok {
				return fmt.Errorf("%w: %q on key %q", ErrUnknownOperator, op, key)
			}
			b.addComparison(key, sqlOp, value)
		}
	}
	return nil
}

// addComparison renders a scalar comparison, choosing the text or numeric
// metadata accessor by the type of the bound value.
func (b *queryBuilder) addComparison(key, sqlOp string, value any) {
	if num, ok := asNumber(value); ok {
		b.addPredicate(fmt.Sprintf("%s %s %s", b.adapter.MetaNumeric(key), sqlOp, b.bind(num)))
		return
	}
	b.addPredicate(fmt.Sprintf("%s %s %s", b.adapter.MetaText(key), sqlOp, b.bind(cast.ToString(value))))
}

// addMembership renders an IN / NOT IN predicate with one placeholder per
// element. An empty IN list matches nothing (a constant false predicate is
// added); an empty NOT IN list matches everything (no predicate is added).
func (b *queryBuilder) addMembership(key string, value any, negate bool) error {
	elems, err := toSlice(value)
	if err != nil {
		return fmt.Errorf("%w: %s expects a list on key %q", ErrInvalidArgument, membershipName(negate), key)
	}

	if len(elems) == 0 {
		if negate {
			return nil
		}
		b.addPredicate("1 = 0")
		return nil
	}

	accessor := b.adapter.MetaText(key)
	if _, ok := asNumber(elems[0]); ok {
		accessor = b.adapter.MetaNumeric(key)
	}

	placeholders := make([]string, len(elems))
	for i, elem := range elems {
		if num, ok := asNumber(elem); ok {
			placeholders[i] = b.bind(num)
		} else {
			placeholders[i] = b.bind(cast.ToString(elem))
		}
	}

	op := "IN"
	if negate {
		op = "NOT IN"
	}
	b.addPredicate(fmt.Sprintf("%s %s (%s)", accessor, op, strings.Join(placeholders, ", ")))
	return nil
}

// addOrderBy appends one order term per field. A "-" prefix orders
// descending with nulls first; no prefix or "+" orders ascending with
// nulls last.
func (b *queryBuilder) addOrderBy(fields []string) {
	for _, field := range fields {
		descending := false
		switch {
		case strings.HasPrefix(field, "-"):
			descending = true
			field = field[1:]
		case strings.HasPrefix(field, "+"):
			field = field[1:]
		}

		accessor := b.adapter.MetaText(field)
		if descending {
			b.addOrder(accessor + " DESC NULLS FIRST")
		} else {
			b.addOrder(accessor + " ASC NULLS LAST")
		}
	}
}

// toSlice accepts []any directly and widens typed slices like []string or
// []float64, which cast alone does not handle.
func toSlice(value any) ([]any, error) {
	if elems, ok := value.([]any); ok {
		return elems, nil
	}
	if elems, err := cast.ToSliceE(value); err == nil {
		return elems, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("not a list: %T", value)
	}
	elems := make([]any, rv.Len())
	for i := range elems {
		elems[i] = rv.Index(i).Interface()
	}
	return elems, nil
}

func membershipName(negate bool) string {
	if negate {
		return opNin
	}
	return opIn
}

// asNumber classifies a filter scalar. Strings always compare as text even
// when they look numeric; everything else goes through cast.
func asNumber(value any) (float64, bool) {
	if _, ok := value.(string); ok {
		return 0, false
	}
	if num, err := cast.ToFloat64E(value); err == nil {
		return num, true
	}
	return 0, false
}
