package dex

import (
	"strings"
	"sync"
)

// Type is an interned JVM-style type, identified by its descriptor
// (e.g. "I", "V", "Ljava/lang/Object;", "[I"). Asking the Context twice
// for the same descriptor returns the same *Type, so types compare by
// pointer identity.
type Type struct {
	descriptor string
}

func (t *Type) Descriptor() string { return t.descriptor }

func (t *Type) IsVoid() bool { return t.descriptor == "V" }

// IsReference is true for class and array types.
func (t *Type) IsReference() bool {
	return strings.HasPrefix(t.descriptor, "L") || strings.HasPrefix(t.descriptor, "[")
}

func (t *Type) String() string { return t.descriptor }

// TypeList is an interned ordered list of types, used as the argument list
// of a Proto. Two lists with the same types are the same pointer.
type TypeList struct {
	types []*Type
	key   string
}

func (l *TypeList) Len() int       { return len(l.types) }
func (l *TypeList) At(i int) *Type { return l.types[i] }
func (l *TypeList) Types() []*Type { return l.types }
func (l *TypeList) String() string { return l.key }

// Proto is an interned method signature: a return type plus an argument
// type list.
type Proto struct {
	rtype *Type
	args  *TypeList
	key   string
}

func (p *Proto) RType() *Type    { return p.rtype }
func (p *Proto) Args() *TypeList { return p.args }
func (p *Proto) IsVoid() bool    { return p.rtype.IsVoid() }
func (p *Proto) String() string  { return p.key }

// Context owns the interning tables for types, type lists, prototypes,
// fields and methods of one run. All passes of a run share one Context.
type Context struct {
	mu        sync.Mutex
	types     map[string]*Type
	typeLists map[string]*TypeList
	protos    map[string]*Proto
	fields    map[fieldKey]*Field
	methods   map[methodKey]*Method
}

func NewContext() *Context {
	return &Context{
		types:     map[string]*Type{},
		typeLists: map[string]*TypeList{},
		protos:    map[string]*Proto{},
		fields:    map[fieldKey]*Field{},
		methods:   map[methodKey]*Method{},
	}
}

// Type returns the interned type for the given descriptor.
func (c *Context) Type(descriptor string) *Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.types[descriptor]; ok {
		return t
	}
	t := &Type{descriptor: descriptor}
	c.types[descriptor] = t
	return t
}

// TypeList returns the interned list for the given types, in order.
func (c *Context) TypeList(types ...*Type) *TypeList {
	var sb strings.Builder
	for _, t := range types {
		sb.WriteString(t.descriptor)
	}
	key := sb.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.typeLists[key]; ok {
		return l
	}
	l := &TypeList{types: append([]*Type(nil), types...), key: key}
	c.typeLists[key] = l
	return l
}

// Proto returns the interned signature with the given return type and
// argument list.
func (c *Context) Proto(rtype *Type, args *TypeList) *Proto {
	key := "(" + args.key + ")" + rtype.descriptor
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.protos[key]; ok {
		return p
	}
	p := &Proto{rtype: rtype, args: args, key: key}
	c.protos[key] = p
	return p
}
