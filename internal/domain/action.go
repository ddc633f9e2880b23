package domain

// ActionKind names a structured commerce action.
type ActionKind string

const ActionAddToCart ActionKind = "ADD_TO_CART"

// ActionPayload is the structured result extracted from a reply directive.
// Price is the raw token the model produced and is not validated.
type ActionPayload struct {
	Kind        ActionKind
	ProductName string
	Price       string
}
