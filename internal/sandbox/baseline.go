package sandbox

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
)

// prop is one own property as its descriptor reported it
type prop struct {
	key          goja.Value
	accessor     bool
	value        goja.Value
	get          goja.Value
	set          goja.Value
	writable     bool
	enumerable   bool
	configurable bool
}

func (p prop) equal(q prop) bool {
	return p.key.SameAs(q.key) &&
		p.accessor == q.accessor &&
		p.value.SameAs(q.value) &&
		p.get.SameAs(q.get) &&
		p.set.SameAs(q.set) &&
		p.writable == q.writable &&
		p.enumerable == q.enumerable &&
		p.configurable == q.configurable
}

// object is the recorded shape of one builtin object
type object struct {
	path       string
	obj        *goja.Object
	proto      *goja.Object
	extensible bool
	props      []prop
}

func (o object) equal(p object) bool {
	if o.proto != p.proto || o.extensible != p.extensible || len(o.props) != len(p.props) {
		return false
	}
	for n := range o.props {
		if !o.props[n].equal(p.props[n]) {
			return false
		}
	}
	return true
}

// baseline records every object reachable from the global object when the
// instance was created: own properties with their attributes, prototype
// and extensibility. The global object itself is restored rather than
// compared. The introspection functions are captured before any guest code
// runs, so replacing Reflect or Object cannot change what the audit sees.
type baseline struct {
	global      *goja.Object
	globalProto *goja.Object
	globals     []prop
	known       map[any]struct{}
	objects     []object

	ownKeys      goja.Callable
	describe     goja.Callable
	isExtensible goja.Callable
}

func captureBaseline(vm *goja.Runtime) (*baseline, error) {
	reflect, ok := vm.Get("Reflect").(*goja.Object)
	if !ok {
		return nil, errors.New("Reflect is not an object")
	}
	objectCtor, ok := vm.Get("Object").(*goja.Object)
	if !ok {
		return nil, errors.New("Object is not an object")
	}

	b := &baseline{global: vm.GlobalObject()}
	var okKeys, okDescribe, okExtensible bool
	b.ownKeys, okKeys = goja.AssertFunction(reflect.Get("ownKeys"))
	b.describe, okDescribe = goja.AssertFunction(reflect.Get("getOwnPropertyDescriptor"))
	b.isExtensible, okExtensible = goja.AssertFunction(objectCtor.Get("isExtensible"))
	if !okKeys || !okDescribe || !okExtensible {
		return nil, errors.New("introspection builtins are not callable")
	}

	b.globalProto = b.global.Prototype()
	globals, err := b.props(b.global)
	if err != nil {
		return nil, err
	}
	b.globals = globals
	b.known = make(map[any]struct{}, len(globals))
	for _, p := range globals {
		b.known[keyID(p.key)] = struct{}{}
	}

	seen := map[*goja.Object]struct{}{b.global: {}}
	var queue []object
	visit := func(path string, v goja.Value) {
		o, ok := v.(*goja.Object)
		if !ok || o == nil {
			return
		}
		if _, dup := seen[o]; dup {
			return
		}
		seen[o] = struct{}{}
		queue = append(queue, object{path: path, obj: o})
	}

	visit("globalThis.[[Prototype]]", b.globalProto)
	for _, p := range globals {
		visitProp(visit, "", p)
	}

	hidden, err := vm.RunString(intrinsicsSource)
	if err != nil {
		return nil, fmt.Errorf("intrinsics: %w", err)
	}
	list, ok := hidden.(*goja.Object)
	if !ok {
		return nil, errors.New("intrinsics is not a list")
	}
	for n, name := range intrinsicNames {
		visit(name, list.Get(strconv.Itoa(n)))
	}

	for n := 0; n < len(queue); n++ {
		state, err := b.state(queue[n].path, queue[n].obj)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", queue[n].path, err)
		}
		queue[n] = state
		if state.proto != nil {
			visit(state.path+".[[Prototype]]", state.proto)
		}
		for _, p := range state.props {
			visitProp(visit, state.path+".", p)
		}
	}
	b.objects = queue
	return b, nil
}

// Intrinsics that no global property leads to but guest code can still reach
var intrinsicNames = []string{
	"%ArrayIteratorPrototype%",
	"%MapIteratorPrototype%",
	"%SetIteratorPrototype%",
	"%StringIteratorPrototype%",
	"%RegExpStringIteratorPrototype%",
	"%GeneratorFunction.prototype%",
	"%AsyncFunction.prototype%",
}

const intrinsicsSource = `(function () {
	var proto = Object.getPrototypeOf;
	return [
		proto([][Symbol.iterator]()),
		proto(new Map()[Symbol.iterator]()),
		proto(new Set()[Symbol.iterator]()),
		proto(''[Symbol.iterator]()),
		proto(/(?:)/[Symbol.matchAll]('')),
		proto(function* () {}),
		proto(async function () {})
	];
})()`

func visitProp(visit func(string, goja.Value), prefix string, p prop) {
	name := prefix + p.key.String()
	if p.accessor {
		visit("get "+name, p.get)
		visit("set "+name, p.set)
		return
	}
	visit(name, p.value)
}

// keyID identifies a property key; symbols by identity, strings by value
func keyID(key goja.Value) any {
	if sym, ok := key.(*goja.Symbol); ok {
		return sym
	}
	return key.String()
}

func (b *baseline) state(path string, obj *goja.Object) (object, error) {
	props, err := b.props(obj)
	if err != nil {
		return object{}, err
	}
	extensible, err := b.isExtensible(goja.Undefined(), obj)
	if err != nil {
		return object{}, err
	}
	return object{
		path:       path,
		obj:        obj,
		proto:      obj.Prototype(),
		extensible: extensible.ToBoolean(),
		props:      props,
	}, nil
}

func (b *baseline) props(obj *goja.Object) ([]prop, error) {
	keys, err := b.ownKeys(goja.Undefined(), obj)
	if err != nil {
		return nil, err
	}
	list, ok := keys.(*goja.Object)
	if !ok {
		return nil, errors.New("own keys is not a list")
	}

	n := int(list.Get("length").ToInteger())
	out := make([]prop, 0, n)
	for k := 0; k < n; k++ {
		key := list.Get(strconv.Itoa(k))
		d, err := b.describe(goja.Undefined(), obj, key)
		if err != nil {
			return nil, err
		}
		desc, ok := d.(*goja.Object)
		if !ok {
			continue
		}

		p := prop{
			key:          key,
			value:        goja.Undefined(),
			get:          goja.Undefined(),
			set:          goja.Undefined(),
			enumerable:   field(desc, "enumerable").ToBoolean(),
			configurable: field(desc, "configurable").ToBoolean(),
		}
		if desc.Get("get") != nil || desc.Get("set") != nil {
			p.accessor = true
			p.get = field(desc, "get")
			p.set = field(desc, "set")
		} else {
			p.value = field(desc, "value")
			p.writable = field(desc, "writable").ToBoolean()
		}
		out = append(out, p)
	}
	return out, nil
}

func field(desc *goja.Object, name string) goja.Value {
	if v := desc.Get(name); v != nil {
		return v
	}
	return goja.Undefined()
}

// removeAdded deletes every global the baseline does not know
func (b *baseline) removeAdded() error {
	current, err := b.props(b.global)
	if err != nil {
		return err
	}
	for _, p := range current {
		if _, ok := b.known[keyID(p.key)]; ok {
			continue
		}
		if sym, ok := p.key.(*goja.Symbol); ok {
			err = b.global.DeleteSymbol(sym)
		} else {
			err = b.global.Delete(p.key.String())
		}
		if err != nil {
			return fmt.Errorf("global %s: %w", p.key, err)
		}
	}
	return nil
}

// restoreGlobals puts back every baseline global whose value or attributes
// changed, including deleted ones
func (b *baseline) restoreGlobals() error {
	current, err := b.props(b.global)
	if err != nil {
		return err
	}
	now := make(map[any]prop, len(current))
	for _, p := range current {
		now[keyID(p.key)] = p
	}

	for _, want := range b.globals {
		if got, ok := now[keyID(want.key)]; ok && got.equal(want) {
			continue
		}
		if err := b.define(want); err != nil {
			return fmt.Errorf("global %s: %w", want.key, err)
		}
	}
	return nil
}

func (b *baseline) define(p prop) error {
	enumerable, configurable := flag(p.enumerable), flag(p.configurable)
	sym, isSym := p.key.(*goja.Symbol)
	switch {
	case p.accessor && isSym:
		return b.global.DefineAccessorPropertySymbol(sym, p.get, p.set, configurable, enumerable)
	case p.accessor:
		return b.global.DefineAccessorProperty(p.key.String(), p.get, p.set, configurable, enumerable)
	case isSym:
		return b.global.DefineDataPropertySymbol(sym, p.value, flag(p.writable), configurable, enumerable)
	default:
		return b.global.DefineDataProperty(p.key.String(), p.value, flag(p.writable), configurable, enumerable)
	}
}

func flag(v bool) goja.Flag {
	if v {
		return goja.FLAG_TRUE
	}
	return goja.FLAG_FALSE
}

// leftovers lists globals the baseline does not know, such as the
// non-configurable bindings of top-level var declarations
func (b *baseline) leftovers() ([]string, error) {
	current, err := b.props(b.global)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range current {
		if _, ok := b.known[keyID(p.key)]; !ok {
			out = append(out, p.key.String())
		}
	}
	return out, nil
}

// modified returns the path of the first baseline object that no longer
// matches its recorded shape, or "" if none does
func (b *baseline) modified() (string, error) {
	if b.global.Prototype() != b.globalProto {
		return "globalThis.[[Prototype]]", nil
	}
	extensible, err := b.isExtensible(goja.Undefined(), b.global)
	if err != nil {
		return "", err
	}
	if !extensible.ToBoolean() {
		return "globalThis", nil
	}

	for _, want := range b.objects {
		got, err := b.state(want.path, want.obj)
		if err != nil {
			return "", fmt.Errorf("%s: %w", want.path, err)
		}
		if !want.equal(got) {
			return want.path, nil
		}
	}
	return "", nil
}
