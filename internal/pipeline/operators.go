package pipeline

import (
	"fmt"

	"factorlab/internal/domain"
)

// operand is one side of a binary operator: a term or a constant.
type operand struct {
	term    *Term
	value   float64
	isConst bool
	isBool  bool
}

func (o operand) String() string {
	if o.term != nil {
		return o.term.String()
	}
	if o.isBool {
		return fmt.Sprint(o.value != 0)
	}
	return formatFloat(o.value)
}

func toOperand(v any) (operand, bool) {
	switch v := v.(type) {
	case *Term:
		return operand{term: v}, v != nil
	case bool:
		return operand{value: b2f(v), isConst: true, isBool: true}, true
	case int:
		return operand{value: float64(v), isConst: true}, true
	case int32:
		return operand{value: float64(v), isConst: true}, true
	case int64:
		return operand{value: float64(v), isConst: true}, true
	case float32:
		return operand{value: float64(v), isConst: true}, true
	case float64:
		return operand{value: v, isConst: true}, true
	}
	return operand{}, false
}

// accepts reports whether o may appear on either side of op.
func accepts(op BinaryOp, o operand) bool {
	switch {
	case op.isLogical():
		if o.isConst {
			return o.isBool || o.value == float64(int64(o.value))
		}
		return o.term.kind == KindFilter
	case op.isComparison():
		if o.isConst {
			return !o.isBool
		}
		return o.term.kind == KindFactor ||
			(o.term.kind == KindClassifier && (op == OpEq || op == OpNe))
	default:
		if o.isConst {
			return !o.isBool
		}
		return o.term.kind == KindFactor
	}
}

// binary builds the fused expression term for left op right.
func (g *Graph) binary(op BinaryOp, left, right any) (*Term, error) {
	l, lok := toOperand(left)
	r, rok := toOperand(right)
	bad := func() error {
		return &BadBinaryOperatorError{Op: op.String(), Left: fmt.Sprint(left), Right: fmt.Sprint(right)}
	}
	if !lok || !rok || (l.isConst && r.isConst) {
		return nil, bad()
	}
	if !accepts(op, l) || !accepts(op, r) {
		return nil, &BadBinaryOperatorError{Op: op.String(), Left: l.String(), Right: r.String()}
	}
	for _, o := range []operand{l, r} {
		if o.term != nil && !g.owns(o.term) {
			return nil, &InputsError{Term: op.String(), Reason: fmt.Sprintf("operand %s belongs to another graph", o.term)}
		}
	}

	var b exprBuilder
	side := func(o operand) Expr {
		if o.isConst {
			return Const{o.value}
		}
		return b.operand(o.term)
	}
	e := Binary{Op: op, L: side(l), R: side(r)}

	kind := KindFilter
	if op.isArithmetic() {
		kind = KindFactor
	}
	return g.expression(kind, e, b.inputs), nil
}

// expression optimises e and interns the resulting term. An expression that
// reduces to one of its inputs returns that input.
func (g *Graph) expression(kind Kind, e Expr, inputs []*Term) *Term {
	e, inputs = compact(fold(e), inputs)
	if r, ok := e.(Ref); ok && inputs[r.Index].kind == kind {
		return inputs[r.Index]
	}

	dtype := domain.Float64
	if kind == KindFilter {
		dtype = domain.Bool
	}
	return g.intern(&Term{
		name:    "Expression(" + e.String() + ")",
		kind:    kind,
		op:      opExpression,
		dtype:   dtype,
		missing: missingFor(kind, dtype),
		inputs:  inputs,
		mask:    g.AssetExists(),
		expr:    e,
		eval:    compile(e),
	})
}

// And is true where both operands are true. Operands are filters or
// boolean/integer constants.
func (g *Graph) And(left, right any) (*Term, error) { return g.binary(OpAnd, left, right) }

// Or is true where either operand is true.
func (g *Graph) Or(left, right any) (*Term, error) { return g.binary(OpOr, left, right) }

// Gt compares factors (or a factor and a number).
func (g *Graph) Gt(left, right any) (*Term, error) { return g.binary(OpGt, left, right) }

// Ge is the >= comparison.
func (g *Graph) Ge(left, right any) (*Term, error) { return g.binary(OpGe, left, right) }

// Lt is the < comparison.
func (g *Graph) Lt(left, right any) (*Term, error) { return g.binary(OpLt, left, right) }

// Le is the <= comparison.
func (g *Graph) Le(left, right any) (*Term, error) { return g.binary(OpLe, left, right) }

// Eq is the == comparison. Classifiers may be compared to label codes.
func (g *Graph) Eq(left, right any) (*Term, error) { return g.binary(OpEq, left, right) }

// Ne is the != comparison.
func (g *Graph) Ne(left, right any) (*Term, error) { return g.binary(OpNe, left, right) }

// Add sums factors and numbers.
func (g *Graph) Add(left, right any) (*Term, error) { return g.binary(OpAdd, left, right) }

// Sub subtracts right from left.
func (g *Graph) Sub(left, right any) (*Term, error) { return g.binary(OpSub, left, right) }

// Mul multiplies.
func (g *Graph) Mul(left, right any) (*Term, error) { return g.binary(OpMul, left, right) }

// Div divides left by right.
func (g *Graph) Div(left, right any) (*Term, error) { return g.binary(OpDiv, left, right) }

// Not inverts a filter.
func (g *Graph) Not(f *Term) (*Term, error) {
	return g.unary(OpNot, KindFilter, f)
}

// Negate flips the sign of a factor.
func (g *Graph) Negate(f *Term) (*Term, error) {
	return g.unary(OpNeg, KindFactor, f)
}

func (g *Graph) unary(op UnaryOp, kind Kind, t *Term) (*Term, error) {
	if t == nil || t.kind != kind {
		return nil, &BadBinaryOperatorError{Op: op.String(), Left: "", Right: fmt.Sprint(t)}
	}
	if !g.owns(t) {
		return nil, &InputsError{Term: op.String(), Reason: fmt.Sprintf("operand %s belongs to another graph", t)}
	}
	var b exprBuilder
	e := Unary{Op: op, X: b.operand(t)}
	return g.expression(kind, e, b.inputs), nil
}
