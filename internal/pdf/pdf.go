// Package pdf renders the printable invoice. It writes a minimal single-page
// PDF 1.4 by hand: the built-in Helvetica font covers the latin-1 range only,
// so text is transliterated before emission.
package pdf

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"tutelliv/internal/domain"
)

const (
	topY     = 750
	lineStep = 16
)

var accentMap = map[rune]string{
	'à': "a", 'â': "a", 'ä': "a", 'é': "e", 'è': "e", 'ê': "e", 'ë': "e",
	'î': "i", 'ï': "i", 'ô': "o", 'ö': "o", 'ù': "u", 'û': "u", 'ü': "u",
	'ç': "c", 'À': "A", 'Â': "A", 'É': "E", 'È': "E", 'Ê': "E", 'Ç': "C",
	'œ': "oe", 'Œ': "OE", '€': "EUR", '’': "'", '‘': "'", '«': "\"", '»': "\"",
	'–': "-", '—': "-",
}

// sanitize maps text into the ASCII subset the embedded font can show:
// accented punctuation and letters are transliterated, parentheses escaped
// for the content stream, anything else out of range dropped.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if repl, ok := accentMap[r]; ok {
			b.WriteString(repl)
			continue
		}
		if r == '(' || r == ')' || r == '\\' {
			b.WriteByte('\\')
			b.WriteRune(r)
			continue
		}
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func invoiceLines(inv domain.Invoice) []string {
	fee := 0.0
	if inv.DeliveryFee != nil {
		fee = *inv.DeliveryFee
	}
	lines := []string{
		fmt.Sprintf("FACTURE #%s", inv.ID),
		fmt.Sprintf("Mission: %s", inv.MissionID),
		fmt.Sprintf("Statut: %s", inv.Status),
		fmt.Sprintf("Montant total: %.2f EUR", inv.Amount),
		fmt.Sprintf("Frais de livraison: %.2f EUR", fee),
		fmt.Sprintf("Note: %s", inv.Note),
		"---- Details par categorie ----",
	}
	if len(inv.LinesByCategory) == 0 {
		return append(lines, "(aucun detail)")
	}
	cats := make([]string, 0, len(inv.LinesByCategory))
	for cat := range inv.LinesByCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		li := inv.LinesByCategory[cat]
		lines = append(lines, fmt.Sprintf("%s: %.2f EUR  | %s", cat, li.Amount, li.Note))
	}
	return lines
}

// Render produces the PDF bytes for an invoice. It cannot fail: any
// unrepresentable character has already been dropped by sanitize.
func Render(inv domain.Invoice) []byte {
	var content bytes.Buffer
	y := topY
	for _, line := range invoiceLines(inv) {
		fmt.Fprintf(&content, "BT /F1 12 Tf 50 %d Td (%s) Tj ET\n", y, sanitize(line))
		y -= lineStep
	}
	body := bytes.TrimRight(content.Bytes(), "\n")

	objects := [][]byte{
		[]byte("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n"),
		[]byte("2 0 obj << /Type /Pages /Kids [3 0 R] /Count 1 >> endobj\n"),
		[]byte("3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] " +
			"/Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >> endobj\n"),
		[]byte(fmt.Sprintf("4 0 obj << /Length %d >> stream\n%s\nendstream endobj\n", len(body), body)),
		[]byte("5 0 obj << /Type /Font /Subtype /Type1 /BaseFont /Helvetica >> endobj\n"),
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, 0, len(objects))
	for _, obj := range objects {
		offsets = append(offsets, out.Len())
		out.Write(obj)
	}
	xrefStart := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(objects)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer << /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", len(objects)+1, xrefStart)
	return out.Bytes()
}
