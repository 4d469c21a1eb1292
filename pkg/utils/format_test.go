package utils

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var indianGrouping = regexp.MustCompile(`^(\d{1,2},)*\d{1,3}$`)

func parseIndianCurrency(s string) float64 {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "₹")
	s = strings.ReplaceAll(s, ",", "")
	v, _ := strconv.ParseFloat(s, 64)
	if negative {
		return -v
	}
	return v
}

// Feature: brokerdash, Property 12: Rupee amounts use Indian digit grouping
//
// Property: For any amount, FormatIndianCurrency yields a rupee sign, exactly two
// decimals and lakh/crore grouping, and parsing the result back gives the amount
// rounded to paise.
func TestProperty_IndianCurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("grouping and precision", prop.ForAll(
		func(amount float64) bool {
			formatted := FormatIndianCurrency(amount)
			body := strings.TrimPrefix(formatted, "-")
			if !strings.HasPrefix(body, "₹") {
				return false
			}
			parts := strings.Split(strings.TrimPrefix(body, "₹"), ".")
			return len(parts) == 2 && len(parts[1]) == 2 && indianGrouping.MatchString(parts[0])
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("value survives formatting", prop.ForAll(
		func(amount float64) bool {
			parsed := parseIndianCurrency(FormatIndianCurrency(amount))
			return math.Abs(parsed-math.Round(amount*100)/100) <= 0.01
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.TestingRun(t)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "₹1,23,45,678.90", FormatIndianCurrency(12345678.9))
	assert.Equal(t, "₹999.00", FormatIndianCurrency(999))
	assert.Equal(t, "-₹1,000.50", FormatIndianCurrency(-1000.5))

	assert.Equal(t, "+₹2,000.00", FormatPnL(2000))
	assert.Equal(t, "-₹50.00", FormatPnL(-50))
	assert.Equal(t, "₹0.00", FormatPnL(0))

	assert.Equal(t, "+7.14%", FormatPercent(7.142857))
	assert.Equal(t, "-8.33%", FormatPercent(-8.333))
	assert.Equal(t, "0.00%", FormatPercent(0))

	assert.Equal(t, "1,00,000", FormatQuantity(100000))
	assert.Equal(t, "-1,234", FormatQuantity(-1234))
	assert.Equal(t, "₹2.50 Cr", FormatCompact(25000000))
	assert.Equal(t, "-₹1.50 L", FormatCompact(-150000))
	assert.Equal(t, "₹99,999.00", FormatCompact(99999))
	assert.Equal(t, "₹0.00", FormatIndianCurrency(-0.001), "no sign once rounded to zero")
}
