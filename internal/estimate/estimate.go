// Package estimate computes the price quote shown before a mission is
// created: item subtotal, flat delivery fee, 10% margin, 20% VAT.
package estimate

import "math"

const (
	deliveryFee = 5.0
	marginRate  = 0.10
	vatRate     = 0.20
)

type Item struct {
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type Breakdown struct {
	Subtotal    float64 `json:"subtotal"`
	Margin      float64 `json:"margin"`
	DeliveryFee float64 `json:"delivery_fee"`
	TVA         float64 `json:"tva"`
	Total       float64 `json:"total"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Calculate returns the full quote for a basket of items.
func Calculate(items []Item) Breakdown {
	var subtotal float64
	for _, it := range items {
		subtotal += float64(it.Quantity) * it.UnitPrice
	}
	margin := subtotal * marginRate
	tva := (subtotal + margin + deliveryFee) * vatRate
	return Breakdown{
		Subtotal:    round2(subtotal),
		Margin:      round2(margin),
		DeliveryFee: round2(deliveryFee),
		TVA:         round2(tva),
		Total:       round2(subtotal + margin + deliveryFee + tva),
	}
}
