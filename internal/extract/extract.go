// Package extract separates the add-to-cart directive a model may embed in a
// reply from the text shown to the user.
//
// The directive wire format is
//
//	ACTION:ADD_TO_CART|PRODUCT:<name>|PRICE:<value>
//
// Fields after the marker may come in any order. Each field is split on its
// first colon only. The directive ends at the end of its line or at the next
// marker occurrence, whichever comes first.
package extract

import (
	"strings"

	"santa-workshop/internal/domain"
)

// Marker is the literal that introduces a directive.
const Marker = "ACTION:ADD_TO_CART"

const (
	fieldSep   = "|"
	keyProduct = "PRODUCT"
	keyPrice   = "PRICE"
)

// DefaultConfirmation is the sentence shown in place of a parsed directive.
// {product} and {price} are substituted verbatim.
const DefaultConfirmation = "Ho ho ho! Your wish for the {product} has been granted! " +
	"The elves are adding it to your Ogabassey cart right now for the special price of N{price}. " +
	"Merry Christmas!"

// Result is what the presentation layer renders for one reply.
type Result struct {
	DisplayText string
	Action      *domain.ActionPayload
}

// Extractor parses replies using a fixed confirmation template.
type Extractor struct {
	confirmation string
}

// New returns an Extractor using the given confirmation template, or
// DefaultConfirmation when the template is blank.
func New(confirmation string) *Extractor {
	if strings.TrimSpace(confirmation) == "" {
		confirmation = DefaultConfirmation
	}
	return &Extractor{confirmation: confirmation}
}

var std = New("")

// Extract parses raw with the default confirmation template.
func Extract(raw string) Result {
	return std.Extract(raw)
}

// Extract never fails: a reply without a usable directive is passed through
// unchanged with no action.
func (e *Extractor) Extract(raw string) Result {
	start := strings.Index(raw, Marker)
	if start < 0 {
		return Result{DisplayText: raw}
	}
	product, price, ok := parseDirective(raw[start+len(Marker):])
	if !ok {
		return Result{DisplayText: raw}
	}
	return Result{
		DisplayText: e.confirm(product, price),
		Action: &domain.ActionPayload{
			Kind:        domain.ActionAddToCart,
			ProductName: product,
			Price:       price,
		},
	}
}

func (e *Extractor) confirm(product, price string) string {
	return strings.NewReplacer("{product}", product, "{price}", price).Replace(e.confirmation)
}

// parseDirective reads the fields that follow the marker. rest starts right
// after the marker.
func parseDirective(rest string) (product, price string, ok bool) {
	if i := strings.Index(rest, Marker); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.IndexAny(rest, "\r\n"); i >= 0 {
		rest = rest[:i]
	}

	fields := strings.Split(rest, fieldSep)
	// fields[0] is what followed the marker before the first separator; a
	// marker glued to other text is not a directive.
	if strings.TrimSpace(fields[0]) != "" {
		return "", "", false
	}

	var seenProduct, seenPrice bool
	for _, f := range fields[1:] {
		key, value, found := strings.Cut(f, ":")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case keyProduct:
			if !seenProduct {
				product, seenProduct = strings.TrimSpace(value), true
			}
		case keyPrice:
			if !seenPrice {
				price, seenPrice = strings.TrimSpace(value), true
			}
		}
	}
	return product, price, product != "" && price != ""
}

// FormatDirective renders p in the wire format the model is asked to emit.
func FormatDirective(p domain.ActionPayload) string {
	return Marker + fieldSep + keyProduct + ":" + p.ProductName + fieldSep + keyPrice + ":" + p.Price
}
