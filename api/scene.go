package api

// Scene is the root of a JSON scene document.
// It describes a prim hierarchy and, optionally, the layer stack it was
// composed from.
type Scene struct {
	// Version of the scene document format.
	Version string `json:"version"`
	// Root is the pseudo-root's children wrapper. Its own name is ignored.
	Root Prim `json:"root"`
	// SessionLayer is listed before the root layer tree when present.
	SessionLayer *Layer `json:"session_layer,omitempty"`
	// Layers is the root layer and its sublayer tree.
	Layers *Layer `json:"layers,omitempty"`
}

// Prim describes one prim in the hierarchy.
type Prim struct {
	// Name is the path element. Must not contain '/'.
	Name string `json:"name"`
	// DisplayName overrides Name for display and filtering.
	DisplayName string `json:"display_name,omitempty"`
	// Specifier is "def" (default), "over" or "class".
	Specifier string `json:"specifier,omitempty"`
	// Active defaults to true.
	Active *bool `json:"active,omitempty"`
	// Loaded defaults to true.
	Loaded *bool `json:"loaded,omitempty"`
	// Kind "model" marks the prim as a model.
	Kind string `json:"kind,omitempty"`
	// Instance marks an instanceable prim.
	Instance bool `json:"instance,omitempty"`
	// Children in display order.
	Children []Prim `json:"children,omitempty"`
	// VariantSets authored on this prim.
	VariantSets []VariantSet `json:"variant_sets,omitempty"`
	// Selections maps variant set name to the selected variant.
	Selections map[string]string `json:"selections,omitempty"`
}

// Layer is a node of the layer stack.
type Layer struct {
	Identifier  string  `json:"identifier"`
	DisplayName string  `json:"display_name,omitempty"`
	SubLayers   []Layer `json:"sublayers,omitempty"`
}

// Name returns the display name, falling back to the identifier.
func (l *Layer) Name() string {
	if l.DisplayName != "" {
		return l.DisplayName
	}
	return l.Identifier
}

// VariantSet is a named set of alternative variants.
type VariantSet struct {
	Name     string    `json:"name"`
	Variants []Variant `json:"variants"`
}

// Variant is one alternative of a VariantSet. Variants may author further,
// nested variant sets that only exist while the variant is selected.
type Variant struct {
	Name        string       `json:"name"`
	VariantSets []VariantSet `json:"variant_sets,omitempty"`
}
