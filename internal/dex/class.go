package dex

// Class is a class definition holding its methods in declaration order.
type Class struct {
	typ     *Type
	methods []*Method
}

func NewClass(typ *Type) *Class { return &Class{typ: typ} }

func (c *Class) Type() *Type { return c.typ }

func (c *Class) AddMethod(m *Method) { c.methods = append(c.methods, m) }

// Methods returns the methods in declaration order. The slice is the
// class's own; callers must not mutate it.
func (c *Class) Methods() []*Method { return c.methods }

// Scope is the ordered, de-duplicated collection of classes a pass
// operates on. Iteration order is insertion order, never hash order, so
// repeated runs see the classes in the same sequence.
type Scope struct {
	classes []*Class
	seen    map[*Type]struct{}
}

func NewScope(classes ...*Class) *Scope {
	s := &Scope{seen: map[*Type]struct{}{}}
	for _, c := range classes {
		s.Add(c)
	}
	return s
}

func (s *Scope) Add(c *Class) {
	if _, ok := s.seen[c.typ]; ok {
		return
	}
	s.seen[c.typ] = struct{}{}
	s.classes = append(s.classes, c)
}

func (s *Scope) Classes() []*Class { return s.classes }

// Hierarchy records override relationships between virtual methods. The
// passes only ever ask one question of it: whether a method is free of any
// override/overridden relationship and therefore safe to rewrite.
type Hierarchy struct {
	overrides  map[*Method][]*Method // base -> overriding methods
	overridden map[*Method][]*Method // overriding -> base methods
}

func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		overrides:  map[*Method][]*Method{},
		overridden: map[*Method][]*Method{},
	}
}

// AddOverride records that impl overrides base.
func (h *Hierarchy) AddOverride(base, impl *Method) {
	h.overrides[base] = append(h.overrides[base], impl)
	h.overridden[impl] = append(h.overridden[impl], base)
}

// NonVirtual reports whether the method participates in no override
// relationship in either direction. Non-virtual methods are trivially so.
func (h *Hierarchy) NonVirtual(m *Method) bool {
	if !m.IsVirtual() {
		return true
	}
	return len(h.overrides[m]) == 0 && len(h.overridden[m]) == 0
}
