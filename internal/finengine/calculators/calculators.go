// Package calculators provides the built-in financial calculators
// registered with the engine at startup. Each
// is intentionally simple arithmetic, not a certified financial model;
// what matters here is exercising the registry/cache/debouncer/pool
// pipeline end to end.
package calculators

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/R3E-Network/calcengine/internal/finengine/registry"
	"github.com/R3E-Network/calcengine/internal/finengine/support"
)

// errorMessagesDE maps validation error codes to the user-facing German
// messages the UI layer renders. The engine itself only emits codes.
var errorMessagesDE = map[string]string{
	support.CodeRequiredField: "Dieses Feld ist erforderlich",
	support.CodeInvalidNumber: "Bitte eine gültige Zahl eingeben",
	support.CodeMinValue:      "Der Wert ist zu niedrig",
	support.CodeMaxValue:      "Der Wert ist zu hoch",
	support.CodeInvalidRange:  "Die Werte passen nicht zusammen",
	support.CodeInvalidFormat: "Ungültiges Format",
}

// Result is the shared output shape: a flat metric name to value
// mapping. encoding/json sorts map keys when marshalling, so this is
// already a canonical serialisation for cache byte-accounting purposes.
type Result map[string]float64

// CanonicalJSON implements registry.Result.
func (r Result) CanonicalJSON() ([]byte, error) {
	return json.Marshal(map[string]float64(r))
}

func number(in registry.Input, errs *[]support.FieldError, field string) (float64, bool) {
	v, ok := in[field]
	if !ok {
		*errs = append(*errs, support.FieldError{Field: field, Code: support.CodeRequiredField, Message: field + " is required"})
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		*errs = append(*errs, support.FieldError{Field: field, Code: support.CodeInvalidNumber, Message: field + " must be a number"})
		return 0, false
	}
}

func optionalNumber(in registry.Input, errs *[]support.FieldError, field string, fallback float64) float64 {
	if _, ok := in[field]; !ok {
		return fallback
	}
	v, ok := number(in, errs, field)
	if !ok {
		return fallback
	}
	return v
}

func atLeast(errs *[]support.FieldError, field string, value, min float64) bool {
	if value < min {
		*errs = append(*errs, support.FieldError{Field: field, Code: support.CodeMinValue, Message: fmt.Sprintf("%s must be at least %v", field, min)})
		return false
	}
	return true
}

func atMost(errs *[]support.FieldError, field string, value, max float64) bool {
	if value > max {
		*errs = append(*errs, support.FieldError{Field: field, Code: support.CodeMaxValue, Message: fmt.Sprintf("%s must be at most %v", field, max)})
		return false
	}
	return true
}

// Register adds every built-in calculator to reg, stopping at the first
// registration failure (a programmer error).
func Register(reg *registry.Registry) error {
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func all() []registry.Calculator {
	return []registry.Calculator{
		compoundInterest(),
		savingsPlan(),
		loan(),
		mortgage(),
		retirement(),
		portfolio(),
		taxOptimization(),
		etfSavingsPlan(),
	}
}

func compoundInterest() registry.Calculator {
	return registry.Calculator{
		ID:              "compound-interest",
		Name:            "Compound Interest",
		Description:     "Projects principal compounded annually plus the sum of monthly contributions",
		Category:        registry.CategoryCompoundInterest,
		Version:         "1.0.0",
		Complexity:      4,
		BaselineDelayMS: 500,
		Priority:        registry.PriorityHigh,
		InputSchema: fields(
			"principal", registry.KindNumber,
			"monthly", registry.KindNumber,
			"years", registry.KindNumber,
			"rate", registry.KindNumber,
		),
		ResultShape:     registry.ResultShape{PrimaryMetrics: []string{"futureValue"}},
		ErrorMessagesDE: errorMessagesDE,
		Validate: func(in registry.Input) []support.FieldError {
			var errs []support.FieldError
			principal, ok := number(in, &errs, "principal")
			if ok {
				atLeast(&errs, "principal", principal, 0)
			}
			monthly, ok := number(in, &errs, "monthly")
			if ok {
				atLeast(&errs, "monthly", monthly, 0)
			}
			years, ok := number(in, &errs, "years")
			if ok {
				atLeast(&errs, "years", years, 0)
				atMost(&errs, "years", years, 100)
			}
			rate := optionalNumber(in, &errs, "rate", 0)
			atLeast(&errs, "rate", rate, 0)
			atMost(&errs, "rate", rate, 100)
			return errs
		},
		Calculate: func(in registry.Input) (registry.Result, error) {
			var errs []support.FieldError
			principal, _ := number(in, &errs, "principal")
			monthly, _ := number(in, &errs, "monthly")
			years, _ := number(in, &errs, "years")
			rate := optionalNumber(in, &errs, "rate", 0)

			fv := principal*math.Pow(1+rate/100, years) + monthly*12*years
			return Result{"futureValue": round2(fv)}, nil
		},
	}
}

func savingsPlan() registry.Calculator {
	return registry.Calculator{
		ID:              "savings-plan",
		Name:            "Savings Plan",
		Description:     "Projects a monthly savings contribution compounded annually",
		Category:        registry.CategoryInvestment,
		Version:         "1.0.0",
		Complexity:      4,
		BaselineDelayMS: 500,
		Priority:        registry.PriorityHigh,
		InputSchema:     fields("monthly", registry.KindNumber, "years", registry.KindNumber, "rate", registry.KindNumber),
		ResultShape:     registry.ResultShape{PrimaryMetrics: []string{"futureValue"}},
		ErrorMessagesDE: errorMessagesDE,
		Validate: func(in registry.Input) []support.FieldError {
			var errs []support.FieldError
			if monthly, ok := number(in, &errs, "monthly"); ok {
				atLeast(&errs, "monthly", monthly, 0)
			}
			if years, ok := number(in, &errs, "years"); ok {
				atLeast(&errs, "years", years, 0)
				atMost(&errs, "years", years, 100)
			}
			rate := optionalNumber(in, &errs, "rate", 0)
			atLeast(&errs, "rate", rate, 0)
			atMost(&errs, "rate", rate, 100)
			return errs
		},
		Calculate: func(in registry.Input) (registry.Result, error) {
			var errs []support.FieldError
			monthly, _ := number(in, &errs, "monthly")
			years, _ := number(in, &errs, "years")
			rate := optionalNumber(in, &errs, "rate", 0)

			annual := monthly * 12
			r := rate / 100
			var fv float64
			if r > 0 {
				fv = annual * ((math.Pow(1+r, years) - 1) / r)
			} else {
				fv = annual * years
			}
			return Result{"futureValue": round2(fv)}, nil
		},
	}
}

func loan() registry.Calculator {
	return registry.Calculator{
		ID:              "loan",
		Name:            "Loan Payment",
		Description:     "Computes the standard amortised monthly payment for a loan",
		Category:        registry.CategoryLoan,
		Version:         "1.0.0",
		Complexity:      5,
		BaselineDelayMS: 600,
		Priority:        registry.PriorityMedium,
		InputSchema:     fields("amount", registry.KindNumber, "rate", registry.KindNumber, "years", registry.KindNumber),
		ResultShape:     registry.ResultShape{PrimaryMetrics: []string{"monthlyPayment", "totalCost"}},
		ErrorMessagesDE: errorMessagesDE,
		Validate: func(in registry.Input) []support.FieldError {
			var errs []support.FieldError
			if amount, ok := number(in, &errs, "amount"); ok {
				atLeast(&errs, "amount", amount, 0)
			}
			if rate, ok := number(in, &errs, "rate"); ok {
				atLeast(&errs, "rate", rate, 0)
				atMost(&errs, "rate", rate, 100)
			}
			if years, ok := number(in, &errs, "years"); ok {
				atLeast(&errs, "years", years, 1)
				atMost(&errs, "years", years, 50)
			}
			return errs
		},
		Calculate: func(in registry.Input) (registry.Result, error) {
			var errs []support.FieldError
			amount, _ := number(in, &errs, "amount")
			rate, _ := number(in, &errs, "rate")
			years, _ := number(in, &errs, "years")

			payment := amortizedPayment(amount, rate, years)
			return Result{"monthlyPayment": round2(payment), "totalCost": round2(payment * years * 12)}, nil
		},
	}
}

func mortgage() registry.Calculator {
	return registry.Calculator{
		ID:              "mortgage",
		Name:            "Mortgage Payment",
		Description:     "Computes the amortised monthly payment for a mortgage net of a down payment",
		Category:        registry.CategoryMortgage,
		Version:         "1.0.0",
		Complexity:      6,
		BaselineDelayMS: 700,
		Priority:        registry.PriorityMedium,
		InputSchema:     fields("price", registry.KindNumber, "down", registry.KindNumber, "rate", registry.KindNumber, "years", registry.KindNumber),
		ResultShape:     registry.ResultShape{PrimaryMetrics: []string{"monthlyPayment", "financedAmount"}},
		ErrorMessagesDE: errorMessagesDE,
		Validate: func(in registry.Input) []support.FieldError {
			var errs []support.FieldError
			price, priceOK := number(in, &errs, "price")
			if priceOK {
				atLeast(&errs, "price", price, 0.01)
			}
			down, downOK := number(in, &errs, "down")
			if downOK {
				atLeast(&errs, "down", down, 0)
			}
			if priceOK && downOK && down > price {
				errs = append(errs, support.FieldError{Field: "down", Code: support.CodeInvalidRange, Message: "down payment must not exceed price"})
			}
			if rate, ok := number(in, &errs, "rate"); ok {
				atLeast(&errs, "rate", rate, 0)
				atMost(&errs, "rate", rate, 100)
			}
			if years, ok := number(in, &errs, "years"); ok {
				atLeast(&errs, "years", years, 1)
				atMost(&errs, "years", years, 50)
			}
			return errs
		},
		Calculate: func(in registry.Input) (registry.Result, error) {
			var errs []support.FieldError
			price, _ := number(in, &errs, "price")
			down, _ := number(in, &errs, "down")
			rate, _ := number(in, &errs, "rate")
			years, _ := number(in, &errs, "years")

			financed := price - down
			payment := amortizedPayment(financed, rate, years)
			return Result{"monthlyPayment": round2(payment), "financedAmount": round2(financed)}, nil
		},
	}
}

func retirement() registry.Calculator {
	return registry.Calculator{
		ID:              "retirement",
		Name:            "Retirement Projection",
		Description:     "Projects retirement savings from current savings and monthly contributions",
		Category:        registry.CategoryRetirement,
		Version:         "1.0.0",
		Complexity:      7,
		BaselineDelayMS: 800,
		Priority:        registry.PriorityLow,
		InputSchema: fields(
			"currentSavings", registry.KindNumber,
			"monthly", registry.KindNumber,
			"rate", registry.KindNumber,
			"yearsToRetirement", registry.KindNumber,
		),
		ResultShape: registry.ResultShape{PrimaryMetrics: []string{"projectedBalance"}},
		ErrorMessagesDE: errorMessagesDE,
		Validate: func(in registry.Input) []support.FieldError {
			var errs []support.FieldError
			if current, ok := number(in, &errs, "currentSavings"); ok {
				atLeast(&errs, "currentSavings", current, 0)
			}
			if monthly, ok := number(in, &errs, "monthly"); ok {
				atLeast(&errs, "monthly", monthly, 0)
			}
			rate := optionalNumber(in, &errs, "rate", 0)
			atLeast(&errs, "rate", rate, 0)
			atMost(&errs, "rate", rate, 100)
			if years, ok := number(in, &errs, "yearsToRetirement"); ok {
				atLeast(&errs, "yearsToRetirement", years, 0)
				atMost(&errs, "yearsToRetirement", years, 80)
			}
			return errs
		},
		Calculate: func(in registry.Input) (registry.Result, error) {
			var errs []support.FieldError
			current, _ := number(in, &errs, "currentSavings")
			monthly, _ := number(in, &errs, "monthly")
			rate := optionalNumber(in, &errs, "rate", 0)
			years, _ := number(in, &errs, "yearsToRetirement")

			r := rate / 100
			annual := monthly * 12
			var contributions float64
			if r > 0 {
				contributions = annual * ((math.Pow(1+r, years) - 1) / r)
			} else {
				contributions = annual * years
			}
			projected := current*math.Pow(1+r, years) + contributions
			return Result{"projectedBalance": round2(projected)}, nil
		},
	}
}

func portfolio() registry.Calculator {
	return registry.Calculator{
		ID:              "portfolio",
		Name:            "Portfolio Expected Return",
		Description:     "Aggregates a weighted expected return across a three-asset portfolio",
		Category:        registry.CategoryAnalysis,
		Version:         "1.0.0",
		Complexity:      5,
		BaselineDelayMS: 900,
		Priority:        registry.PriorityLow,
		InputSchema: fields(
			"stocksWeight", registry.KindNumber, "stocksReturn", registry.KindNumber,
			"bondsWeight", registry.KindNumber, "bondsReturn", registry.KindNumber,
			"cashWeight", registry.KindNumber, "cashReturn", registry.KindNumber,
		),
		ResultShape: registry.ResultShape{PrimaryMetrics: []string{"expectedReturn"}},
		ErrorMessagesDE: errorMessagesDE,
		Validate: func(in registry.Input) []support.FieldError {
			var errs []support.FieldError
			sw, _ := number(in, &errs, "stocksWeight")
			bw, _ := number(in, &errs, "bondsWeight")
			cw, _ := number(in, &errs, "cashWeight")
			number(in, &errs, "stocksReturn")
			number(in, &errs, "bondsReturn")
			number(in, &errs, "cashReturn")
			if total := sw + bw + cw; math.Abs(total-100) > 0.01 {
				errs = append(errs, support.FieldError{Field: "stocksWeight", Code: support.CodeInvalidRange, Message: "asset weights must sum to 100"})
			}
			return errs
		},
		Calculate: func(in registry.Input) (registry.Result, error) {
			var errs []support.FieldError
			sw, _ := number(in, &errs, "stocksWeight")
			sr, _ := number(in, &errs, "stocksReturn")
			bw, _ := number(in, &errs, "bondsWeight")
			br, _ := number(in, &errs, "bondsReturn")
			cw, _ := number(in, &errs, "cashWeight")
			cr, _ := number(in, &errs, "cashReturn")

			expected := (sw/100)*sr + (bw/100)*br + (cw/100)*cr
			return Result{"expectedReturn": round2(expected)}, nil
		},
	}
}

func taxOptimization() registry.Calculator {
	return registry.Calculator{
		ID:              "tax-optimization",
		Name:            "Tax Estimate",
		Description:     "Estimates marginal tax owed under a three-bracket progressive schedule",
		Category:        registry.CategoryTax,
		Version:         "1.0.0",
		Complexity:      6,
		BaselineDelayMS: 1000,
		Priority:        registry.PriorityLow,
		InputSchema:     fields("income", registry.KindNumber, "deductions", registry.KindNumber),
		ResultShape:     registry.ResultShape{PrimaryMetrics: []string{"taxOwed", "effectiveRate"}},
		ErrorMessagesDE: errorMessagesDE,
		Validate: func(in registry.Input) []support.FieldError {
			var errs []support.FieldError
			if income, ok := number(in, &errs, "income"); ok {
				atLeast(&errs, "income", income, 0)
			}
			deductions := optionalNumber(in, &errs, "deductions", 0)
			atLeast(&errs, "deductions", deductions, 0)
			return errs
		},
		Calculate: func(in registry.Input) (registry.Result, error) {
			var errs []support.FieldError
			income, _ := number(in, &errs, "income")
			deductions := optionalNumber(in, &errs, "deductions", 0)

			taxable := income - deductions
			if taxable < 0 {
				taxable = 0
			}
			tax := progressiveTax(taxable)
			rate := 0.0
			if income > 0 {
				rate = tax / income * 100
			}
			return Result{"taxOwed": round2(tax), "effectiveRate": round2(rate)}, nil
		},
	}
}

func etfSavingsPlan() registry.Calculator {
	return registry.Calculator{
		ID:              "etf-savings-plan",
		Name:            "ETF Savings Plan",
		Description:     "Projects a monthly ETF contribution compounded at a declared annual return",
		Category:        registry.CategoryInvestment,
		Version:         "1.0.0",
		Complexity:      5,
		BaselineDelayMS: 600,
		Priority:        registry.PriorityMedium,
		InputSchema:     fields("monthly", registry.KindNumber, "annualReturn", registry.KindNumber, "years", registry.KindNumber),
		ResultShape:     registry.ResultShape{PrimaryMetrics: []string{"futureValue"}},
		ErrorMessagesDE: errorMessagesDE,
		Validate: func(in registry.Input) []support.FieldError {
			var errs []support.FieldError
			if monthly, ok := number(in, &errs, "monthly"); ok {
				atLeast(&errs, "monthly", monthly, 0)
			}
			if ret, ok := number(in, &errs, "annualReturn"); ok {
				atLeast(&errs, "annualReturn", ret, -50)
				atMost(&errs, "annualReturn", ret, 100)
			}
			if years, ok := number(in, &errs, "years"); ok {
				atLeast(&errs, "years", years, 0)
				atMost(&errs, "years", years, 100)
			}
			return errs
		},
		Calculate: func(in registry.Input) (registry.Result, error) {
			var errs []support.FieldError
			monthly, _ := number(in, &errs, "monthly")
			ret, _ := number(in, &errs, "annualReturn")
			years, _ := number(in, &errs, "years")

			annual := monthly * 12
			r := ret / 100
			var fv float64
			if r != 0 {
				fv = annual * ((math.Pow(1+r, years) - 1) / r)
			} else {
				fv = annual * years
			}
			return Result{"futureValue": round2(fv)}, nil
		},
	}
}

func amortizedPayment(principal, annualRatePercent, years float64) float64 {
	n := years * 12
	if n <= 0 {
		return 0
	}
	r := annualRatePercent / 100 / 12
	if r == 0 {
		return principal / n
	}
	factor := math.Pow(1+r, n)
	return principal * r * factor / (factor - 1)
}

// progressiveTax applies a simple three-bracket schedule: 10% to 10000,
// 20% on the next 30000, 30% beyond.
func progressiveTax(taxable float64) float64 {
	const (
		bracket1 = 10000.0
		bracket2 = 40000.0
	)
	var tax float64
	switch {
	case taxable <= bracket1:
		tax = taxable * 0.10
	case taxable <= bracket2:
		tax = bracket1*0.10 + (taxable-bracket1)*0.20
	default:
		tax = bracket1*0.10 + (bracket2-bracket1)*0.20 + (taxable-bracket2)*0.30
	}
	return tax
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// fields turns a flat name/kind pair list into an input schema, so each
// calculator's declaration reads as a list rather than repeated struct
// literals.
func fields(pairs ...any) []registry.Field {
	out := make([]registry.Field, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, registry.Field{Name: pairs[i].(string), Kind: pairs[i+1].(registry.FieldKind)})
	}
	return out
}
