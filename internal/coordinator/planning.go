package coordinator

import (
	"math"
	"sort"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/modules/portfolio"
)

// adjustmentThresholdPct is the smallest allocation change worth acting on
const adjustmentThresholdPct = 0.5

// LiquidationStep is one class-level sale of a liquidation plan
type LiquidationStep struct {
	AssetClass domain.AssetClass `json:"asset_class"`
	Amount     float64           `json:"amount"`
}

// Adjustment is a signed percentage-point change for one class
type Adjustment struct {
	AssetClass domain.AssetClass `json:"asset_class"`
	Percent    float64           `json:"adjustment"`
}

// PlanLiquidation decides where the money for a withdrawal comes from. Idle
// cash is used first, then tradable classes above target (largest deviation
// first), then the remaining tradable holdings proportionally. Classes
// without a trading worker are never sold. The plan never exceeds amount
// and covers it in full when cash plus tradable holdings allow.
func PlanLiquidation(p *portfolio.Portfolio, target domain.Allocation, amount float64) []LiquidationStep {
	steps := []LiquidationStep{}
	if p == nil || amount <= 0 {
		return steps
	}

	remaining := amount
	if p.Cash > 0 {
		take := math.Min(p.Cash, remaining)
		steps = append(steps, LiquidationStep{AssetClass: domain.Cash, Amount: domain.Round(take, 2)})
		remaining = domain.Round(remaining-take, 2)
	}
	if remaining <= 0 || p.TotalValue <= 0 {
		return steps
	}

	available := tradableValues(p)

	current := portfolio.ComputeAllocation(p)
	type overweight struct {
		class     domain.AssetClass
		deviation float64
	}
	var over []overweight
	for _, class := range domain.AssetClasses {
		if _, ok := available[class]; !ok {
			continue
		}
		if dev := current.TopLevel[class] - target.TopLevel[class]; dev > 0 {
			over = append(over, overweight{class: class, deviation: dev})
		}
	}
	sort.SliceStable(over, func(i, j int) bool { return over[i].deviation > over[j].deviation })

	for _, o := range over {
		if remaining <= 0 {
			break
		}
		take := math.Min(o.deviation/100*p.TotalValue, remaining)
		take = domain.Round(math.Min(take, available[o.class]), 2)
		if take <= 0 {
			continue
		}
		steps = addStep(steps, o.class, take)
		available[o.class] -= take
		remaining = domain.Round(remaining-take, 2)
	}

	if remaining > 0 {
		steps = addProportional(steps, available, remaining)
	}
	return steps
}

// tradableValues returns the holdings value of every class a trading
// worker can sell
func tradableValues(p *portfolio.Portfolio) map[domain.AssetClass]float64 {
	classValues := p.ClassValues()
	values := make(map[domain.AssetClass]float64, len(domain.AssetClasses))
	for _, class := range domain.AssetClasses {
		if _, ok := domain.TraderFor(class); ok {
			values[class] = classValues[class]
		}
	}
	return values
}

// Liquidatable is idle cash plus every holding a trading worker can sell
func Liquidatable(p *portfolio.Portfolio) float64 {
	if p == nil {
		return 0
	}
	values := []float64{math.Max(p.Cash, 0)}
	for _, v := range tradableValues(p) {
		values = append(values, v)
	}
	return domain.AddMoney(values...)
}

// addProportional spreads amount across the available holdings by weight.
// The last class absorbs rounding so the sum stays exact.
func addProportional(steps []LiquidationStep, available map[domain.AssetClass]float64, amount float64) []LiquidationStep {
	var classes []domain.AssetClass
	total := 0.0
	for _, class := range domain.AssetClasses {
		if available[class] > 0 {
			classes = append(classes, class)
			total += available[class]
		}
	}
	if total <= 0 {
		return steps
	}

	share := math.Min(amount, total)
	allotted := 0.0
	for i, class := range classes {
		take := domain.Round(share*available[class]/total, 2)
		if i == len(classes)-1 {
			take = domain.Round(share-allotted, 2)
		}
		take = math.Min(take, available[class])
		if take <= 0 {
			continue
		}
		steps = addStep(steps, class, take)
		allotted = domain.Round(allotted+take, 2)
	}
	return steps
}

func addStep(steps []LiquidationStep, class domain.AssetClass, amount float64) []LiquidationStep {
	for i := range steps {
		if steps[i].AssetClass == class {
			steps[i].Amount = domain.Round(steps[i].Amount+amount, 2)
			return steps
		}
	}
	return append(steps, LiquidationStep{AssetClass: class, Amount: amount})
}

// PlanTotal sums the step amounts
func PlanTotal(steps []LiquidationStep) float64 {
	values := make([]float64, len(steps))
	for i, s := range steps {
		values[i] = s.Amount
	}
	return domain.AddMoney(values...)
}

// AllocationAdjustments lists target minus current for every class in either
// allocation, dropping changes below half a percentage point
func AllocationAdjustments(current, target domain.Allocation) []Adjustment {
	seen := make(map[domain.AssetClass]bool)
	var classes []domain.AssetClass
	for _, class := range domain.AssetClasses {
		seen[class] = true
		classes = append(classes, class)
	}
	var extra []domain.AssetClass
	for _, m := range []map[domain.AssetClass]float64{current.TopLevel, target.TopLevel} {
		for class := range m {
			if !seen[class] {
				seen[class] = true
				extra = append(extra, class)
			}
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	classes = append(classes, extra...)

	adjustments := []Adjustment{}
	for _, class := range classes {
		adj := domain.Round(target.TopLevel[class]-current.TopLevel[class], 2)
		if math.Abs(adj) < adjustmentThresholdPct {
			continue
		}
		adjustments = append(adjustments, Adjustment{AssetClass: class, Percent: adj})
	}
	return adjustments
}
