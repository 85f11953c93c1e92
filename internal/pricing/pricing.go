// Package pricing computes transport line amounts and pre-invoice totals.
package pricing

import (
	"time"

	"github.com/diewo77/go-prefacturation/internal/models"
)

// Default rates applied when neither the line nor the calculator carries one.
const (
	DefaultFuelSurchargeRate = 0.10
	DefaultVATRate           = 0.20
)

// LineInput is the raw order data used to price a line.
// Missing numeric values are treated as zero.
type LineInput struct {
	OrderID           string               `json:"order_id"`
	OrderReference    string               `json:"order_reference"`
	DeliveryDate      time.Time            `json:"delivery_date"`
	Origin            string               `json:"origin"`
	Destination       string               `json:"destination"`
	Weight            float64              `json:"weight"`
	Pallets           int                  `json:"pallets"`
	TariffCode        string               `json:"tariff_code"`
	PricePerKg        float64              `json:"price_per_kg"`
	FuelSurchargeRate *float64             `json:"fuel_surcharge_rate,omitempty"`
	VATRate           *float64             `json:"vat_rate,omitempty"`
	Options           []models.LineOption  `json:"options,omitempty"`
	Discrepancies     []models.Discrepancy `json:"discrepancies,omitempty"`
}

// Calculator prices lines with default fuel surcharge and VAT rates.
type Calculator struct {
	FuelSurchargeRate float64
	VATRate           float64
}

// NewCalculator returns a calculator; zero rates fall back to the package defaults.
func NewCalculator(fuelSurchargeRate, vatRate float64) *Calculator {
	if fuelSurchargeRate <= 0 {
		fuelSurchargeRate = DefaultFuelSurchargeRate
	}
	if vatRate <= 0 {
		vatRate = DefaultVATRate
	}
	return &Calculator{FuelSurchargeRate: fuelSurchargeRate, VATRate: vatRate}
}

// PriceLine computes base, fuel, options, HT, VAT and TTC amounts for one order.
// Input discrepancies are carried over unchanged.
func (c *Calculator) PriceLine(in LineInput) models.PrefacturationLine {
	fuelRate := c.FuelSurchargeRate
	if in.FuelSurchargeRate != nil {
		fuelRate = *in.FuelSurchargeRate
	}
	vatRate := c.VATRate
	if in.VATRate != nil {
		vatRate = *in.VATRate
	}

	line := models.PrefacturationLine{
		OrderID:        in.OrderID,
		OrderReference: in.OrderReference,
		DeliveryDate:   in.DeliveryDate,
		Origin:         in.Origin,
		Destination:    in.Destination,
		Weight:         in.Weight,
		Pallets:        in.Pallets,
		TariffCode:     in.TariffCode,
		Options:        append([]models.LineOption(nil), in.Options...),
		Discrepancies:  append([]models.Discrepancy(nil), in.Discrepancies...),
		VATRate:        vatRate,
	}
	line.BaseAmount = in.Weight * in.PricePerKg
	line.FuelSurcharge = line.BaseAmount * fuelRate
	line.TotalHT = line.BaseAmount + line.FuelSurcharge + line.OptionsTotal()
	line.VATAmount = line.TotalHT * vatRate
	line.TotalTTC = line.TotalHT + line.VATAmount
	return line
}

// PriceLines prices every input in order.
func (c *Calculator) PriceLines(inputs []LineInput) []models.PrefacturationLine {
	lines := make([]models.PrefacturationLine, 0, len(inputs))
	for _, in := range inputs {
		lines = append(lines, c.PriceLine(in))
	}
	return lines
}

// Aggregate sums every line field independently.
// DiscrepancyAmount sums the impact of all discrepancies, resolved or not.
func Aggregate(lines []models.PrefacturationLine) models.Totals {
	var t models.Totals
	for _, l := range lines {
		t.BaseAmount += l.BaseAmount
		t.FuelSurcharge += l.FuelSurcharge
		t.OptionsAmount += l.OptionsTotal()
		t.TotalHT += l.TotalHT
		t.VATAmount += l.VATAmount
		t.TotalTTC += l.TotalTTC
		for _, d := range l.Discrepancies {
			t.DiscrepancyAmount += d.Impact
		}
	}
	return t
}

// AdjustLineTTC forces the line TTC to amount and back-computes HT and VAT
// from the line's VAT rate. The base amount absorbs the difference so the
// line stays balanced.
func AdjustLineTTC(line *models.PrefacturationLine, amount float64) {
	line.TotalTTC = amount
	line.TotalHT = amount / (1 + line.VATRate)
	line.VATAmount = line.TotalTTC - line.TotalHT
	line.BaseAmount = line.TotalHT - line.FuelSurcharge - line.OptionsTotal()
}
