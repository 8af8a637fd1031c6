package sponsorships

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FallbackAbsorptionRate is used for species missing from the table, in kg CO2 per tree per year
var FallbackAbsorptionRate = decimal.NewFromInt(22)

var absorptionRates = map[string]decimal.Decimal{
	"mangrove":  decimal.NewFromInt(25),
	"ghaf":      decimal.NewFromInt(20),
	"date_palm": decimal.NewFromInt(18),
	"acacia":    decimal.NewFromInt(21),
	"neem":      decimal.NewFromInt(23),
	"sidr":      decimal.NewFromInt(19),
}

// NormalizeSpecies lower-cases a species name and joins words with underscores
func NormalizeSpecies(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// AbsorptionRate returns the yearly absorption for one tree of species
func AbsorptionRate(species string) decimal.Decimal {
	if rate, ok := absorptionRates[NormalizeSpecies(species)]; ok {
		return rate
	}
	return FallbackAbsorptionRate
}

// EstimateCO2Offset returns treeCount times the mean absorption rate of the
// species mix, in kg per year. An empty mix uses the fallback rate.
func EstimateCO2Offset(treeCount int64, species []string) decimal.Decimal {
	if treeCount <= 0 {
		return decimal.Zero
	}
	mean := FallbackAbsorptionRate
	if len(species) > 0 {
		sum := decimal.Zero
		for _, s := range species {
			sum = sum.Add(AbsorptionRate(s))
		}
		mean = sum.Div(decimal.NewFromInt(int64(len(species))))
	}
	return mean.Mul(decimal.NewFromInt(treeCount)).Round(2)
}
