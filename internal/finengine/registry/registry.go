// Package registry holds the typed catalogue of financial calculators.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/R3E-Network/calcengine/internal/finengine/support"
)

// Category is the closed enumeration of calculator categories.
type Category string

const (
	CategoryCompoundInterest Category = "compound-interest"
	CategoryLoan             Category = "loan"
	CategoryMortgage         Category = "mortgage"
	CategoryRetirement       Category = "retirement"
	CategoryInvestment       Category = "investment"
	CategoryTax              Category = "tax"
	CategoryInsurance        Category = "insurance"
	CategoryComparison       Category = "comparison"
	CategoryAnalysis         Category = "analysis"
)

var validCategories = map[Category]bool{
	CategoryCompoundInterest: true,
	CategoryLoan:             true,
	CategoryMortgage:         true,
	CategoryRetirement:       true,
	CategoryInvestment:       true,
	CategoryTax:              true,
	CategoryInsurance:        true,
	CategoryComparison:       true,
	CategoryAnalysis:         true,
}

// FieldKind is the data kind of a declared input field.
type FieldKind string

const (
	KindNumber  FieldKind = "number"
	KindInteger FieldKind = "integer"
	KindString  FieldKind = "string"
	KindBoolean FieldKind = "boolean"
)

// Field describes one entry in a calculator's input schema.
type Field struct {
	Name string
	Kind FieldKind
	Min  *float64
	Max  *float64
}

// ResultShape is an opaque-to-the-engine descriptor sufficient for UI
// binding. The engine never inspects its contents.
type ResultShape struct {
	PrimaryMetrics []string
}

// Priority is the debounce priority class declared for a calculator.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Input is a finite mapping from field name to scalar value.
type Input map[string]any

// Result is the opaque-to-the-engine calculation output. Calculators
// return concrete types that satisfy this interface so the engine can
// derive a byte size for cache accounting without knowing their shape.
type Result interface {
	CanonicalJSON() ([]byte, error)
}

// Calculator is a named, versioned, pure function plus schema.
// Validate and Calculate are plain function fields rather than
// interface methods: the calculator set is closed and constructed as
// struct literals.
type Calculator struct {
	ID              string
	Name            string
	Description     string
	Category        Category
	Version         string
	InputSchema     []Field
	ResultShape     ResultShape
	Complexity      int
	BaselineDelayMS int
	Priority        Priority
	Validate        func(Input) []support.FieldError
	Calculate       func(Input) (Result, error)
	ErrorMessagesDE map[string]string
}

func (c *Calculator) validateDeclaration() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return &support.RegistrationError{Reason: "id must not be empty"}
	case strings.TrimSpace(c.Name) == "":
		return &support.RegistrationError{CalcID: c.ID, Reason: "name must not be empty"}
	case len(c.InputSchema) == 0:
		return &support.RegistrationError{CalcID: c.ID, Reason: "input schema must declare at least one field"}
	case len(c.ResultShape.PrimaryMetrics) == 0:
		return &support.RegistrationError{CalcID: c.ID, Reason: "result shape descriptor is missing"}
	case c.Calculate == nil:
		return &support.RegistrationError{CalcID: c.ID, Reason: "calculate function is absent"}
	case c.Validate == nil:
		return &support.RegistrationError{CalcID: c.ID, Reason: "validate function is absent"}
	case !validCategories[c.Category]:
		return &support.RegistrationError{CalcID: c.ID, Reason: "category is not one of the enumerated values"}
	}
	return nil
}

// entry preserves registration order alongside the calculator so Search
// can return results in the order calculators were registered.
type entry struct {
	calc  Calculator
	order int
}

// Registry is a typed catalogue of calculators keyed by id.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*entry
	nextSeq int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*entry)}
}

// Register adds a calculator to the registry. Failures are programmer
// errors surfaced synchronously; the registry is left unchanged on error.
func (r *Registry) Register(c Calculator) error {
	if err := c.validateDeclaration(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[c.ID]; exists {
		return &support.RegistrationError{CalcID: c.ID, Reason: "id already registered"}
	}

	r.byID[c.ID] = &entry{calc: c, order: r.nextSeq}
	r.nextSeq++
	return nil
}

// Deregister removes a calculator from the registry and any derived
// indices. It is a no-op if the id was never registered.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Lookup returns the calculator registered under id.
func (r *Registry) Lookup(id string) (Calculator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Calculator{}, false
	}
	return e.calc, true
}

// List enumerates all registered calculators in registration order.
func (r *Registry) List() []Calculator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderedLocked(func(Calculator) bool { return true })
}

// Search performs a case-insensitive substring match against id, name, and
// description, returning matches in registration order.
func (r *Registry) Search(query string) []Calculator {
	q := strings.ToLower(strings.TrimSpace(query))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if q == "" {
		return r.orderedLocked(func(Calculator) bool { return true })
	}
	return r.orderedLocked(func(c Calculator) bool {
		return strings.Contains(strings.ToLower(c.ID), q) ||
			strings.Contains(strings.ToLower(c.Name), q) ||
			strings.Contains(strings.ToLower(c.Description), q)
	})
}

func (r *Registry) orderedLocked(keep func(Calculator) bool) []Calculator {
	entries := make([]*entry, 0, len(r.byID))
	for _, e := range r.byID {
		if keep(e.calc) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	out := make([]Calculator, len(entries))
	for i, e := range entries {
		out[i] = e.calc
	}
	return out
}
