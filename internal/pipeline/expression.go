package pipeline

import (
	"fmt"
	"math"
)

// BinaryOp is an operator joining two sub-expressions.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota + 1
	OpSub
	OpMul
	OpDiv
	OpGt
	OpGe
	OpLt
	OpLe
	OpEq
	OpNe
	OpAnd
	OpOr
)

var binarySymbols = map[BinaryOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/",
	OpGt: ">", OpGe: ">=", OpLt: "<", OpLe: "<=", OpEq: "==", OpNe: "!=",
	OpAnd: "&", OpOr: "|",
}

func (o BinaryOp) String() string { return binarySymbols[o] }

func (o BinaryOp) isArithmetic() bool { return o >= OpAdd && o <= OpDiv }
func (o BinaryOp) isComparison() bool { return o >= OpGt && o <= OpNe }
func (o BinaryOp) isLogical() bool    { return o == OpAnd || o == OpOr }

// UnaryOp is an operator on one sub-expression.
type UnaryOp uint8

const (
	OpNeg UnaryOp = iota + 1
	OpNot
)

func (o UnaryOp) String() string {
	if o == OpNot {
		return "~"
	}
	return "-"
}

// Expr is a node of an expression tree: Const, Ref, Binary or Unary.
// Boolean results are 1 and 0.
type Expr interface {
	String() string
	isExpr()
}

// Const is a literal.
type Const struct{ V float64 }

// Ref is the current value of the expression term's Index-th input.
type Ref struct{ Index int }

// Binary applies Op to L and R.
type Binary struct {
	Op   BinaryOp
	L, R Expr
}

// Unary applies Op to X.
type Unary struct {
	Op UnaryOp
	X  Expr
}

func (Const) isExpr()  {}
func (Ref) isExpr()    {}
func (Binary) isExpr() {}
func (Unary) isExpr()  {}

func (e Const) String() string  { return formatFloat(e.V) }
func (e Ref) String() string    { return fmt.Sprintf("x_%d", e.Index) }
func (e Binary) String() string { return fmt.Sprintf("(%s %s %s)", e.L, e.Op, e.R) }
func (e Unary) String() string  { return fmt.Sprintf("%s(%s)", e.Op, e.X) }

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func truthy(v float64) bool { return v != 0 && !math.IsNaN(v) }

func applyBinary(op BinaryOp, l, r float64) float64 {
	switch op {
	case OpAdd:
		return l + r
	case OpSub:
		return l - r
	case OpMul:
		return l * r
	case OpDiv:
		return l / r
	case OpGt:
		return b2f(l > r)
	case OpGe:
		return b2f(l >= r)
	case OpLt:
		return b2f(l < r)
	case OpLe:
		return b2f(l <= r)
	case OpEq:
		return b2f(l == r)
	case OpNe:
		return b2f(l != r)
	case OpAnd:
		return b2f(truthy(l) && truthy(r))
	case OpOr:
		return b2f(truthy(l) || truthy(r))
	}
	return math.NaN()
}

func applyUnary(op UnaryOp, x float64) float64 {
	if op == OpNot {
		return b2f(!truthy(x))
	}
	return -x
}

// compile turns e into a closure over the current input values.
func compile(e Expr) func([]float64) float64 {
	switch e := e.(type) {
	case Const:
		v := e.V
		return func([]float64) float64 { return v }
	case Ref:
		i := e.Index
		return func(in []float64) float64 { return in[i] }
	case Binary:
		op, l, r := e.Op, compile(e.L), compile(e.R)
		return func(in []float64) float64 { return applyBinary(op, l(in), r(in)) }
	case Unary:
		op, x := e.Op, compile(e.X)
		return func(in []float64) float64 { return applyUnary(op, x(in)) }
	}
	panic(fmt.Sprintf("pipeline: unknown expression node %T", e))
}

// fold simplifies e: constant sub-trees are evaluated, double negations
// cancel, and boolean operators with a constant side reduce to the other
// side or a constant.
func fold(e Expr) Expr {
	switch e := e.(type) {
	case Binary:
		l, r := fold(e.L), fold(e.R)
		lc, lok := l.(Const)
		rc, rok := r.(Const)
		if lok && rok {
			return Const{applyBinary(e.Op, lc.V, rc.V)}
		}
		if e.Op.isLogical() && (lok || rok) {
			c, other := lc, r
			if rok {
				c, other = rc, l
			}
			switch {
			case e.Op == OpAnd && truthy(c.V):
				return other
			case e.Op == OpAnd:
				return Const{0}
			case e.Op == OpOr && truthy(c.V):
				return Const{1}
			default:
				return other
			}
		}
		return Binary{Op: e.Op, L: l, R: r}
	case Unary:
		x := fold(e.X)
		if c, ok := x.(Const); ok {
			return Const{applyUnary(e.Op, c.V)}
		}
		if inner, ok := x.(Unary); ok && inner.Op == e.Op {
			return inner.X
		}
		return Unary{Op: e.Op, X: x}
	}
	return e
}

// refs lists the input indices e reads, in first-use order.
func refs(e Expr, seen map[int]bool, out []int) []int {
	switch e := e.(type) {
	case Ref:
		if !seen[e.Index] {
			seen[e.Index] = true
			out = append(out, e.Index)
		}
	case Binary:
		out = refs(e.L, seen, out)
		out = refs(e.R, seen, out)
	case Unary:
		out = refs(e.X, seen, out)
	}
	return out
}

// remap rewrites every Ref through index.
func remap(e Expr, index map[int]int) Expr {
	switch e := e.(type) {
	case Ref:
		return Ref{index[e.Index]}
	case Binary:
		return Binary{Op: e.Op, L: remap(e.L, index), R: remap(e.R, index)}
	case Unary:
		return Unary{Op: e.Op, X: remap(e.X, index)}
	}
	return e
}

// compact drops the inputs e no longer reads and renumbers the rest in
// first-use order.
func compact(e Expr, inputs []*Term) (Expr, []*Term) {
	used := refs(e, map[int]bool{}, nil)
	index := make(map[int]int, len(used))
	kept := make([]*Term, len(used))
	for newIdx, oldIdx := range used {
		index[oldIdx] = newIdx
		kept[newIdx] = inputs[oldIdx]
	}
	return remap(e, index), kept
}

// exprBuilder accumulates the de-duplicated inputs of a fused expression.
type exprBuilder struct {
	inputs []*Term
}

func (b *exprBuilder) add(t *Term) int {
	for i, in := range b.inputs {
		if in == t {
			return i
		}
	}
	b.inputs = append(b.inputs, t)
	return len(b.inputs) - 1
}

// operand returns the expression for t. Expression terms are inlined so
// chains of operators evaluate as one fused expression.
func (b *exprBuilder) operand(t *Term) Expr {
	if t.op != opExpression {
		return Ref{b.add(t)}
	}
	index := make(map[int]int, len(t.inputs))
	for i, in := range t.inputs {
		index[i] = b.add(in)
	}
	return remap(t.expr, index)
}
