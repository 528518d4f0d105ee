package capsule

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/capsulecheck/internal/digest"
)

// Signing is the provenance.signing block of a document.
type Signing struct {
	Digest     string
	DigestAlgo string
	Signature  string
	Method     string
	KeyID      string
	PubKey     string
}

// StoredDigest returns the recorded digest with its algorithm. Digests
// recorded without an algorithm are taken to be digest.Default.
func (s Signing) StoredDigest() digest.Digest {
	algo := s.DigestAlgo
	if algo == "" {
		algo = digest.Default
	}
	return digest.Digest{Algorithm: algo, Hex: s.Digest}
}

// ReviewApproved is the review status that requires a valid seal under
// strict policy.
const ReviewApproved = "approved"

func section(fields map[string]any, path ...string) map[string]any {
	cur := fields
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Signing reads provenance.signing. Missing entries are empty strings.
func (d *Document) Signing() Signing {
	s := section(d.Fields, "provenance", "signing")
	return Signing{
		Digest:     str(s["digest"]),
		DigestAlgo: str(s["digest_algo"]),
		Signature:  str(s["signature"]),
		Method:     str(s["method"]),
		KeyID:      str(s["key_id"]),
		PubKey:     str(s["pubkey"]),
	}
}

// ReviewStatus reads provenance.review.status, defaulting to "draft".
func (d *Document) ReviewStatus() string {
	if status := str(section(d.Fields, "provenance", "review")["status"]); status != "" {
		return status
	}
	return "draft"
}

// SetDigest records dg under provenance.signing.
func (d *Document) SetDigest(dg digest.Digest) error {
	return d.setSigning([][2]string{
		{"digest", dg.Hex},
		{"digest_algo", dg.Algorithm},
	})
}

// SetSeal records a signature over the stored digest under
// provenance.signing.
func (d *Document) SetSeal(signature, method, keyID, pubKey string) error {
	return d.setSigning([][2]string{
		{"signature", signature},
		{"method", method},
		{"key_id", keyID},
		{"pubkey", pubKey},
	})
}

// setSigning edits the YAML node tree in place so key order and comments
// elsewhere in the file survive, then refreshes Fields from the tree.
func (d *Document) setSigning(pairs [][2]string) error {
	if d.root == nil || len(d.root.Content) == 0 {
		return loadErr(ErrCodeWrite, d.Path, "document has no YAML tree")
	}
	signing, err := ensureMapping(d.root.Content[0], "provenance")
	if err == nil {
		signing, err = ensureMapping(signing, "signing")
	}
	if err != nil {
		return loadErr(ErrCodeWrite, d.Path, "%v", err)
	}
	for _, kv := range pairs {
		setScalar(signing, kv[0], kv[1])
	}

	var fields map[string]any
	if err := d.root.Decode(&fields); err != nil {
		return loadErr(ErrCodeWrite, d.Path, "%v", err)
	}
	d.Fields = fields
	return nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// ensureMapping returns the mapping stored under key, creating it when the
// key is absent or null.
func ensureMapping(parent *yaml.Node, key string) (*yaml.Node, error) {
	v := lookup(parent, key)
	switch {
	case v == nil:
		v = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		parent.Content = append(parent.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
		return v, nil
	case v.Kind == yaml.MappingNode:
		return v, nil
	case v.Kind == yaml.ScalarNode && v.Tag == "!!null":
		*v = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map", HeadComment: v.HeadComment, LineComment: v.LineComment}
		return v, nil
	default:
		return nil, fmt.Errorf("%s: expected mapping", key)
	}
}

func setScalar(mapping *yaml.Node, key, value string) {
	if v := lookup(mapping, key); v != nil {
		v.Kind = yaml.ScalarNode
		v.Tag = "!!str"
		v.Value = value
		v.Style = 0
		v.Content = nil
		return
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}

// Encode renders the document's YAML tree with two-space indentation.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the document back to its path via a temp file and rename.
func (d *Document) Save() error {
	data, err := d.Encode()
	if err != nil {
		return loadErr(ErrCodeWrite, d.Path, "encode: %v", err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(d.Path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.Path), ".capsule-*.tmp")
	if err != nil {
		return loadErr(ErrCodeWrite, d.Path, "%v", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return loadErr(ErrCodeWrite, d.Path, "%v", err)
	}
	if err := tmp.Close(); err != nil {
		return loadErr(ErrCodeWrite, d.Path, "%v", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return loadErr(ErrCodeWrite, d.Path, "%v", err)
	}
	if err := os.Rename(tmpName, d.Path); err != nil {
		return loadErr(ErrCodeWrite, d.Path, "%v", err)
	}
	return nil
}
