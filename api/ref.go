package api

import "fmt"

// Kind enumerates the object kinds a Ref can name.
type Kind uint8

const (
	KindPrim Kind = iota + 1
	KindDisplayGroup
	KindAttribute
	KindRelationship
	KindVariantSet
	KindVariant
	KindMetadata
	KindMetadataDictKey
)

func (k Kind) String() string {
	switch k {
	case KindPrim:
		return "prim"
	case KindDisplayGroup:
		return "display_group"
	case KindAttribute:
		return "attribute"
	case KindRelationship:
		return "relationship"
	case KindVariantSet:
		return "variant_set"
	case KindVariant:
		return "variant"
	case KindMetadata:
		return "metadata"
	case KindMetadataDictKey:
		return "metadata_dict_key"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Ref names one object hanging off a prim. The set of implementations is
// closed: only the types in this file satisfy it.
type Ref interface {
	Kind() Kind
	// Owner is the path of the prim the object belongs to.
	Owner() string
	Accept(v Visitor) error
	isRef()
}

// Visitor dispatches on the concrete Ref type.
type Visitor interface {
	VisitPrim(PrimRef) error
	VisitDisplayGroup(DisplayGroupRef) error
	VisitAttribute(AttributeRef) error
	VisitRelationship(RelationshipRef) error
	VisitVariantSet(VariantSetRef) error
	VisitVariant(VariantRef) error
	VisitMetadata(MetadataRef) error
	VisitMetadataDictKey(MetadataDictKeyRef) error
}

type PrimRef struct {
	Path string
}

// DisplayGroupRef is a nested property group such as "xformOp:transform".
type DisplayGroupRef struct {
	Prim  string
	Group string
}

type AttributeRef struct {
	Prim string
	Name string
}

type RelationshipRef struct {
	Prim string
	Name string
}

type VariantSetRef struct {
	Prim string
	Set  string
}

// VariantRef names one variant of a set. An empty Variant is the
// "clear selection" choice.
type VariantRef struct {
	Prim    string
	Set     string
	Variant string
}

type MetadataRef struct {
	Prim string
	Key  string
}

// MetadataDictKeyRef addresses an entry inside a dictionary-valued metadata
// field. KeyPath is colon-separated for nested dictionaries.
type MetadataDictKeyRef struct {
	Prim    string
	Key     string
	KeyPath string
}

func (PrimRef) Kind() Kind            { return KindPrim }
func (DisplayGroupRef) Kind() Kind    { return KindDisplayGroup }
func (AttributeRef) Kind() Kind       { return KindAttribute }
func (RelationshipRef) Kind() Kind    { return KindRelationship }
func (VariantSetRef) Kind() Kind      { return KindVariantSet }
func (VariantRef) Kind() Kind         { return KindVariant }
func (MetadataRef) Kind() Kind        { return KindMetadata }
func (MetadataDictKeyRef) Kind() Kind { return KindMetadataDictKey }

func (r PrimRef) Owner() string            { return r.Path }
func (r DisplayGroupRef) Owner() string    { return r.Prim }
func (r AttributeRef) Owner() string       { return r.Prim }
func (r RelationshipRef) Owner() string    { return r.Prim }
func (r VariantSetRef) Owner() string      { return r.Prim }
func (r VariantRef) Owner() string         { return r.Prim }
func (r MetadataRef) Owner() string        { return r.Prim }
func (r MetadataDictKeyRef) Owner() string { return r.Prim }

func (r PrimRef) Accept(v Visitor) error            { return v.VisitPrim(r) }
func (r DisplayGroupRef) Accept(v Visitor) error    { return v.VisitDisplayGroup(r) }
func (r AttributeRef) Accept(v Visitor) error       { return v.VisitAttribute(r) }
func (r RelationshipRef) Accept(v Visitor) error    { return v.VisitRelationship(r) }
func (r VariantSetRef) Accept(v Visitor) error      { return v.VisitVariantSet(r) }
func (r VariantRef) Accept(v Visitor) error         { return v.VisitVariant(r) }
func (r MetadataRef) Accept(v Visitor) error        { return v.VisitMetadata(r) }
func (r MetadataDictKeyRef) Accept(v Visitor) error { return v.VisitMetadataDictKey(r) }

func (PrimRef) isRef()            {}
func (DisplayGroupRef) isRef()    {}
func (AttributeRef) isRef()       {}
func (RelationshipRef) isRef()    {}
func (VariantSetRef) isRef()      {}
func (VariantRef) isRef()         {}
func (MetadataRef) isRef()        {}
func (MetadataDictKeyRef) isRef() {}

// String renders a ref in a path-like form, e.g. "/World.size" or
// "/World{shading=red}".
func String(r Ref) string {
	switch r := r.(type) {
	case PrimRef:
		return r.Path
	case DisplayGroupRef:
		return r.Prim + "." + r.Group + ":"
	case AttributeRef:
		return r.Prim + "." + r.Name
	case RelationshipRef:
		return r.Prim + "." + r.Name
	case VariantSetRef:
		return r.Prim + "{" + r.Set + "}"
	case VariantRef:
		return r.Prim + "{" + r.Set + "=" + r.Variant + "}"
	case MetadataRef:
		return r.Prim + "[" + r.Key + "]"
	case MetadataDictKeyRef:
		return r.Prim + "[" + r.Key + ":" + r.KeyPath + "]"
	default:
		return fmt.Sprintf("%v", r)
	}
}

var (
	_ Ref = PrimRef{}
	_ Ref = DisplayGroupRef{}
	_ Ref = AttributeRef{}
	_ Ref = RelationshipRef{}
	_ Ref = VariantSetRef{}
	_ Ref = VariantRef{}
	_ Ref = MetadataRef{}
	_ Ref = MetadataDictKeyRef{}
)
