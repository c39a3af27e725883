package pdf

import (
	"bytes"
	"testing"

	"tutelliv/internal/domain"
)

func TestSanitize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"café crème", "cafe creme"},
		{"10 € (environ)", "10 EUR \\(environ\\)"},
		{"plain ascii", "plain ascii"},
		{"emoji \U0001F600 gone", "emoji  gone"},
	}
	for _, tc := range cases {
		if got := sanitize(tc.in); got != tc.want {
			t.Fatalf("sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRenderStructure(t *testing.T) {
	fee := 5.0
	inv := domain.Invoice{
		ID:        "F-00001",
		MissionID: "m-1",
		Amount:    42.50,
		Status:    domain.InvoicePending,
		Note:      "livré à l'étage",
		LinesByCategory: map[string]domain.InvoiceLine{
			"FOOD":    {Amount: 30.00, Note: "courses"},
			"HYGIENE": {Amount: 12.50},
		},
		DeliveryFee: &fee,
	}
	data := Render(inv)

	if !bytes.HasPrefix(data, []byte("%PDF-1.4")) {
		t.Fatalf("missing PDF header: %q", data[:16])
	}
	if !bytes.HasSuffix(data, []byte("%%EOF")) {
		t.Fatal("missing EOF marker")
	}
	for _, want := range []string{
		"FACTURE #F-00001",
		"Mission: m-1",
		"Montant total: 42.50 EUR",
		"Frais de livraison: 5.00 EUR",
		"FOOD: 30.00 EUR",
		"HYGIENE: 12.50 EUR",
		"livre a l'etage", // transliterated
		"xref",
		"trailer << /Size 6 /Root 1 0 R >>",
	} {
		if !bytes.Contains(data, []byte(want)) {
			t.Fatalf("rendered PDF missing %q", want)
		}
	}
}

func TestRenderWithoutLines(t *testing.T) {
	data := Render(domain.Invoice{ID: "F-00002", MissionID: "m-2", Status: domain.InvoiceEditing})
	if !bytes.Contains(data, []byte(`\(aucun detail\)`)) {
		t.Fatal("expected placeholder for missing detail lines")
	}
	if !bytes.Contains(data, []byte("Frais de livraison: 0.00 EUR")) {
		t.Fatal("nil delivery fee should print as 0.00")
	}
}
