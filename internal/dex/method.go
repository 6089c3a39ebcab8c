package dex

import (
	"fmt"
	"strings"
)

// Access holds dex access flags. Only the flags the optimizer inspects are
// defined here.
type Access uint32

const (
	AccPublic      Access = 0x1
	AccPrivate     Access = 0x2
	AccProtected   Access = 0x4
	AccStatic      Access = 0x8
	AccFinal       Access = 0x10
	AccAbstract    Access = 0x400
	AccConstructor Access = 0x10000
)

type fieldKey struct {
	class *Type
	name  string
	typ   *Type
}

// Field is an interned field reference.
type Field struct {
	class *Type
	name  string
	typ   *Type
}

func (f *Field) Class() *Type   { return f.class }
func (f *Field) Name() string   { return f.name }
func (f *Field) Type() *Type    { return f.typ }
func (f *Field) String() string { return f.class.descriptor + "." + f.name + ":" + f.typ.descriptor }

// FieldRef returns the interned reference to class.name:typ.
func (c *Context) FieldRef(class *Type, name string, typ *Type) *Field {
	k := fieldKey{class, name, typ}
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.fields[k]; ok {
		return f
	}
	f := &Field{class: class, name: name, typ: typ}
	c.fields[k] = f
	return f
}

type methodKey struct {
	class *Type
	name  string
	proto *Proto
}

// Method is an interned method reference, optionally concretized into a
// definition with access flags and a body. References to the same
// (class, name, proto) triple are the same pointer until a signature
// rewrite moves the method to a new triple.
type Method struct {
	ctx     *Context
	class   *Type
	name    string
	proto   *Proto
	access  Access
	virtual bool
	def     bool
	pinned  bool
	code    *Code
}

func (m *Method) Class() *Type   { return m.class }
func (m *Method) Name() string   { return m.name }
func (m *Method) Proto() *Proto  { return m.proto }
func (m *Method) Access() Access { return m.access }

// IsDef reports whether this is a concrete definition rather than a bare
// reference to a method defined elsewhere (or virtually dispatched).
func (m *Method) IsDef() bool { return m.def }

func (m *Method) IsStatic() bool      { return m.access&AccStatic != 0 }
func (m *Method) IsConstructor() bool { return m.access&AccConstructor != 0 }

// IsVirtual reports whether the method is part of virtual dispatch (i.e.
// neither static, private, nor a constructor).
func (m *Method) IsVirtual() bool { return m.virtual }

func (m *Method) Code() *Code        { return m.code }
func (m *Method) SetCode(code *Code) { m.code = code }

// PinName excludes the method from renaming, typically because an external
// keep rule or reflection refers to it by name.
func (m *Method) PinName() { m.pinned = true }

// CanRename reports whether a rewrite may change the method's name.
func (m *Method) CanRename() bool { return !m.pinned }

// FullName is the deobfuscated-style printable name used for deny-list
// substring matching and diagnostics.
func (m *Method) FullName() string {
	return m.class.descriptor + "." + m.name + ":" + m.proto.key
}

func (m *Method) String() string { return m.FullName() }

// MethodRef returns the interned reference for (class, name, proto),
// creating a non-definition reference if none exists yet.
func (c *Context) MethodRef(class *Type, name string, proto *Proto) *Method {
	k := methodKey{class, name, proto}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.methods[k]; ok {
		return m
	}
	m := &Method{ctx: c, class: class, name: name, proto: proto}
	c.methods[k] = m
	return m
}

// FindMethod returns the interned reference for (class, name, proto) or nil
// if it was never created. Used for collision checks before a rename.
func (c *Context) FindMethod(class *Type, name string, proto *Proto) *Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.methods[methodKey{class, name, proto}]
}

// MakeConcrete turns a reference into a definition with the given access
// flags. Virtual is tracked separately from the flag bits because it is a
// property of the declaring class's dispatch, not of the method alone.
func (m *Method) MakeConcrete(access Access, virtual bool) *Method {
	m.access = access
	m.virtual = virtual
	m.def = true
	return m
}

// Change moves the method to a new (name, proto) pair, keeping pointer
// identity so existing instruction operands stay valid. If the target slot
// is already taken by a different method, a numeric suffix is appended to
// the name until the slot is free (rename on collision).
func (m *Method) Change(name string, proto *Proto) {
	c := m.ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.methods, methodKey{m.class, m.name, m.proto})
	chosen := name
	for i := 1; ; i++ {
		if _, taken := c.methods[methodKey{m.class, chosen, proto}]; !taken {
			break
		}
		chosen = fmt.Sprintf("%s$r%d", name, i)
	}
	m.name = chosen
	m.proto = proto
	c.methods[methodKey{m.class, chosen, proto}] = m
}

// CompareMethods is the total method order used to sequence deterministic
// rewrite phases: by class descriptor, then name, then signature.
func CompareMethods(a, b *Method) int {
	if r := strings.Compare(a.class.descriptor, b.class.descriptor); r != 0 {
		return r
	}
	if r := strings.Compare(a.name, b.name); r != 0 {
		return r
	}
	return strings.Compare(a.proto.key, b.proto.key)
}
