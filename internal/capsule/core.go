package capsule

import (
	"fmt"

	"github.com/roach88/capsulecheck/internal/canon"
	"github.com/roach88/capsulecheck/internal/digest"
)

// CoreFields are the fields covered by a document's digest, in emission
// order. The order is lexical so that digests match those produced by
// sorted-key JSON encoders.
var CoreFields = []string{
	"assumptions",
	"domain",
	"id",
	"pedagogy",
	"statement",
	"title",
	"version",
}

var pedagogyFields = []string{"kind", "text"}

// CoreProjection extracts the digest-covered subset of a document.
//
// Scalar fields that are missing or null project to null. The list fields
// assumptions and pedagogy project to [] when missing or null. Pedagogy
// entries keep only kind and text. A present empty string stays "".
// Everything outside CoreFields, including provenance, is ignored.
func CoreProjection(fields map[string]any) (canon.Object, error) {
	obj := make(canon.Object, 0, len(CoreFields))
	for _, key := range CoreFields {
		var (
			v   canon.Value
			err error
		)
		switch key {
		case "assumptions":
			v, err = projectList(fields[key], canon.FromAny)
		case "pedagogy":
			v, err = projectList(fields[key], projectPedagogy)
		default:
			v, err = canon.FromAny(fields[key])
		}
		if err != nil {
			return nil, fmt.Errorf("core field %q: %w", key, err)
		}
		obj = append(obj, canon.F(key, v))
	}
	return obj, nil
}

func projectList(raw any, elem func(any) (canon.Value, error)) (canon.Value, error) {
	if raw == nil {
		return canon.List{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", raw)
	}
	list := make(canon.List, len(items))
	for i, item := range items {
		v, err := elem(item)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		list[i] = v
	}
	return list, nil
}

func projectPedagogy(item any) (canon.Value, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected mapping, got %T", item)
	}
	return canon.Project(m, pedagogyFields)
}

// CanonicalCore returns the canonical bytes of the core projection.
func (d *Document) CanonicalCore() ([]byte, error) {
	core, err := CoreProjection(d.Fields)
	if err != nil {
		return nil, err
	}
	return canon.Marshal(core)
}

// CoreDigest computes the digest of the document's core projection.
func (d *Document) CoreDigest() (digest.Digest, error) {
	data, err := d.CanonicalCore()
	if err != nil {
		return digest.Digest{}, loadErr(ErrCodeProjection, d.Path, "%v", err)
	}
	return digest.Of(data), nil
}
