package ir

// MDOperandKind tags the payload of an MDOperand.
type MDOperandKind uint8

const (
	MDNull   MDOperandKind = iota // null
	MDString                      // !"text"  or "text" inside a specialized node
	MDInt                         // 64
	MDRef                         // !7
	MDIdent                       // DW_ATE_float, DIFlagPrototyped | DIFlagX
	MDValue                       // typed constant such as `i32 1` inside a tuple
	MDInline                      // inline node, e.g. !DIExpression()
)

// MDOperand is one element of a tuple or the value of a specialized field.
type MDOperand struct {
	Kind  MDOperandKind
	Str   string // MDString, MDIdent
	Int   int64
	Node  *MDNode // MDRef, MDInline
	Value Value
}

// MDField is a `key: value` pair of a specialized node.
type MDField struct {
	Key string
	Val MDOperand
}

// MDNode is a metadata node. Kind is empty for plain tuples `!{...}` and
// the specialized name otherwise (DILocalVariable, DIBasicType, ...).
// Inline nodes have ID -1.
type MDNode struct {
	ID       int
	Kind     string
	Distinct bool
	Elems    []MDOperand // tuples
	Fields   []MDField   // specialized nodes
}

// Field returns the value of key.
func (n *MDNode) Field(key string) (MDOperand, bool) {
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Val, true
		}
	}
	return MDOperand{}, false
}

// SetField replaces or appends key.
func (n *MDNode) SetField(key string, v MDOperand) {
	for i := range n.Fields {
		if n.Fields[i].Key == key {
			n.Fields[i].Val = v
			return
		}
	}
	n.Fields = append(n.Fields, MDField{Key: key, Val: v})
}

// CloneInto copies n's fields and elements into dst, keeping dst's ID.
func (n *MDNode) CloneInto(dst *MDNode) {
	dst.Kind = n.Kind
	dst.Distinct = n.Distinct
	dst.Elems = append([]MDOperand(nil), n.Elems...)
	dst.Fields = append([]MDField(nil), n.Fields...)
}

// RefOperand builds `!N` pointing at n.
func RefOperand(n *MDNode) MDOperand {
	return MDOperand{Kind: MDRef, Node: n}
}

// StringOperand builds a string operand.
func StringOperand(s string) MDOperand {
	return MDOperand{Kind: MDString, Str: s}
}

// IntOperand builds an integer operand.
func IntOperand(v int64) MDOperand {
	return MDOperand{Kind: MDInt, Int: v}
}

// IdentOperand builds a bare identifier operand.
func IdentOperand(s string) MDOperand {
	return MDOperand{Kind: MDIdent, Str: s}
}
