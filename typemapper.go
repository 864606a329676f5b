package missive

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// DefaultTypeIDFieldName is the property key under which type identifiers are stored.
const DefaultTypeIDFieldName = "__TypeId__"

// Type registry errors.
var (
	// ErrUnregisteredType is returned by FromType for a type that was never registered.
	ErrUnregisteredType = errors.New("missive: type not registered")

	// ErrUnknownTypeID is returned by ToType for an identifier that was never registered.
	ErrUnknownTypeID = errors.New("missive: unknown type identifier")

	// ErrDuplicateTypeID is returned when a registration conflicts with an existing one.
	ErrDuplicateTypeID = errors.New("missive: conflicting type registration")
)

// TypeMapper resolves runtime types to stable string identifiers and back.
type TypeMapper interface {
	// FromType returns the identifier for t.
	FromType(t reflect.Type) (string, error)

	// ToType returns the type registered under id.
	ToType(id string) (reflect.Type, error)

	// TypeIDFieldName returns the message property key that holds the identifier.
	TypeIDFieldName() string
}

// TypeRegistry is a TypeMapper backed by explicit registrations.
// Safe for concurrent use; registration normally happens once at startup.
type TypeRegistry struct {
	byID      map[string]reflect.Type
	byType    map[reflect.Type]string
	fieldName string
	qualified bool
	mu        sync.RWMutex
}

// TypeRegistryOption configures a TypeRegistry.
type TypeRegistryOption func(*TypeRegistry)

// WithTypeIDFieldName sets the property key used for type identifiers.
func WithTypeIDFieldName(name string) TypeRegistryOption {
	return func(r *TypeRegistry) {
		r.fieldName = name
	}
}

// WithQualifiedNames selects fully qualified identifiers ("github.com/acme/orders.Order")
// when true, or short identifiers ("orders.Order") when false. Default true.
func WithQualifiedNames(qualified bool) TypeRegistryOption {
	return func(r *TypeRegistry) {
		r.qualified = qualified
	}
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry(opts ...TypeRegistryOption) *TypeRegistry {
	r := &TypeRegistry{
		byID:      make(map[string]reflect.Type),
		byType:    make(map[reflect.Type]string),
		fieldName: DefaultTypeIDFieldName,
		qualified: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fieldName == "" {
		r.fieldName = DefaultTypeIDFieldName
	}
	return r
}

// Register records the dynamic type of v under a derived identifier and returns it.
func (r *TypeRegistry) Register(v any) (string, error) {
	t := reflect.TypeOf(v)
	if t == nil {
		return "", fmt.Errorf("%w: nil value has no type", ErrUnregisteredType)
	}
	id := r.Name(t)
	return id, r.registerType(id, t)
}

// RegisterAs records the dynamic type of v under id.
func (r *TypeRegistry) RegisterAs(id string, v any) error {
	t := reflect.TypeOf(v)
	if t == nil {
		return fmt.Errorf("%w: nil value has no type", ErrUnregisteredType)
	}
	return r.registerType(id, t)
}

// Register records T in r under a derived identifier and returns it.
func Register[T any](r *TypeRegistry) (string, error) {
	t := reflect.TypeFor[T]()
	id := r.Name(t)
	return id, r.registerType(id, t)
}

func (r *TypeRegistry) registerType(id string, t reflect.Type) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier for %v", ErrDuplicateTypeID, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, idTaken := r.byID[id]
	current, typeTaken := r.byType[t]
	switch {
	case idTaken && existing == t:
		return nil
	case idTaken:
		return fmt.Errorf("%w: %q already names %v", ErrDuplicateTypeID, id, existing)
	case typeTaken:
		return fmt.Errorf("%w: %v already registered as %q", ErrDuplicateTypeID, t, current)
	}

	r.byID[id] = t
	r.byType[t] = id
	return nil
}

// FromType implements TypeMapper. Lookups are exact: *T and T are distinct registrations.
func (r *TypeRegistry) FromType(t reflect.Type) (string, error) {
	r.mu.RLock()
	id, ok := r.byType[t]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrUnregisteredType, t)
	}
	return id, nil
}

// ToType implements TypeMapper.
func (r *TypeRegistry) ToType(id string) (reflect.Type, error) {
	r.mu.RLock()
	t, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTypeID, id)
	}
	return t, nil
}

// TypeIDFieldName implements TypeMapper.
func (r *TypeRegistry) TypeIDFieldName() string {
	return r.fieldName
}

// IDs returns all registered identifiers in sorted order.
func (r *TypeRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Name derives the identifier r would assign to t.
func (r *TypeRegistry) Name(t reflect.Type) string {
	return typeName(t, r.qualified)
}

func typeName(t reflect.Type, qualified bool) string {
	if t.Kind() == reflect.Pointer {
		return "*" + typeName(t.Elem(), qualified)
	}
	if qualified && t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

var _ TypeMapper = (*TypeRegistry)(nil)
