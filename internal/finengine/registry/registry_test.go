package registry

import (
	"testing"

	"github.com/R3E-Network/calcengine/internal/finengine/support"
	"github.com/stretchr/testify/require"
)

func sampleCalculator(id string) Calculator {
	return Calculator{
		ID:          id,
		Name:        "Sample " + id,
		Description: "a sample calculator for " + id,
		Category:    CategoryAnalysis,
		Version:     "1.0.0",
		InputSchema: []Field{{Name: "amount", Kind: KindNumber}},
		ResultShape: ResultShape{PrimaryMetrics: []string{"result"}},
		Complexity:  3,
		Validate:    func(Input) []support.FieldError { return nil },
		Calculate:   func(in Input) (Result, error) { return nil, nil },
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(sampleCalculator("loan")))

	calc, ok := r.Lookup("loan")
	require.True(t, ok)
	require.Equal(t, "Sample loan", calc.Name)

	_, ok = r.Lookup("missing")
	require.False(t, ok)
}

func TestRegisterDuplicateIDFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(sampleCalculator("loan")))

	err := r.Register(sampleCalculator("loan"))
	require.Error(t, err)

	var regErr *support.RegistrationError
	require.ErrorAs(t, err, &regErr)

	// Registry unchanged: still exactly one calculator.
	require.Len(t, r.List(), 1)
}

func TestRegisterRejectsStructuralViolations(t *testing.T) {
	cases := map[string]func(Calculator) Calculator{
		"empty id":         func(c Calculator) Calculator { c.ID = ""; return c },
		"empty name":       func(c Calculator) Calculator { c.Name = ""; return c },
		"no schema fields": func(c Calculator) Calculator { c.InputSchema = nil; return c },
		"no result shape":  func(c Calculator) Calculator { c.ResultShape = ResultShape{}; return c },
		"no calculate fn":  func(c Calculator) Calculator { c.Calculate = nil; return c },
		"no validate fn":   func(c Calculator) Calculator { c.Validate = nil; return c },
		"bad category":     func(c Calculator) Calculator { c.Category = "bogus"; return c },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := New()
			err := r.Register(mutate(sampleCalculator("x")))
			require.Error(t, err)
			require.Empty(t, r.List())
		})
	}
}

func TestDeregisterRemovesFromIndices(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(sampleCalculator("loan")))
	r.Deregister("loan")

	_, ok := r.Lookup("loan")
	require.False(t, ok)
	require.Empty(t, r.Search("loan"))
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := New()
	ids := []string{"mortgage", "loan", "retirement"}
	for _, id := range ids {
		require.NoError(t, r.Register(sampleCalculator(id)))
	}

	list := r.List()
	require.Len(t, list, 3)
	for i, id := range ids {
		require.Equal(t, id, list[i].ID)
	}
}

func TestSearchIsCaseInsensitiveSubstring(t *testing.T) {
	r := New()
	c := sampleCalculator("compound-interest")
	c.Description = "Projects Compound Growth over time"
	require.NoError(t, r.Register(c))
	require.NoError(t, r.Register(sampleCalculator("loan")))

	results := r.Search("GROWTH")
	require.Len(t, results, 1)
	require.Equal(t, "compound-interest", results[0].ID)

	results = r.Search("loan")
	require.Len(t, results, 1)
	require.Equal(t, "loan", results[0].ID)

	require.Empty(t, r.Search("nonexistent"))
}
