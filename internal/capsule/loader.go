package capsule

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"
)

// Load reads every capsule under path. A file path loads that one file; a
// directory is walked recursively for .yaml and .yml files in lexical order.
// Hidden directories are skipped.
//
// Documents that load cleanly are returned even when others fail; callers
// decide whether any error is fatal.
func Load(path string) ([]*Document, []error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, []error{loadErr(ErrCodeNotFound, path, "no such file or directory")}
		}
		return nil, []error{loadErr(ErrCodeRead, path, "%v", err)}
	}
	if !info.IsDir() {
		doc, err := LoadFile(path)
		if err != nil {
			return nil, []error{err}
		}
		return []*Document{doc}, nil
	}

	files, err := FindFiles(path)
	if err != nil {
		return nil, []error{loadErr(ErrCodeRead, path, "scan directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, []error{loadErr(ErrCodeNoFiles, path, "no .yaml or .yml files found")}
	}

	var (
		docs []*Document
		errs []error
	)
	for _, f := range files {
		doc, err := LoadFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, errs
}

// FindFiles lists capsule files under dir in lexical walk order.
func FindFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

// LoadFile reads and parses one capsule file.
func LoadFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, loadErr(ErrCodeRead, path, "%v", err)
	}
	return Parse(path, raw)
}

// Parse decodes raw capsule bytes. A UTF-8 or UTF-16 byte order mark selects
// the decoding; without one the input must be valid UTF-8.
func Parse(path string, raw []byte) (*Document, error) {
	text, err := decodeText(raw)
	if err != nil {
		return nil, loadErr(ErrCodeEncoding, path, "%v", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(text, &root); err != nil {
		return nil, loadErr(ErrCodeSyntax, path, "%v", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, loadErr(ErrCodeShape, path, "empty document")
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return nil, loadErr(ErrCodeShape, path, "top level must be a mapping")
	}

	var fields map[string]any
	if err := root.Decode(&fields); err != nil {
		return nil, loadErr(ErrCodeSyntax, path, "%v", err)
	}
	if err := ValidateShape(fields); err != nil {
		return nil, loadErr(ErrCodeShape, path, "%v", err)
	}

	checks, err := parseChecks(fields)
	if err != nil {
		return nil, loadErr(ErrCodeShape, path, "%v", err)
	}

	return &Document{
		Path:   path,
		Fields: fields,
		Checks: checks,
		root:   &root,
	}, nil
}

var (
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
)

func decodeText(raw []byte) ([]byte, error) {
	utf16 := bytes.HasPrefix(raw, bomUTF16BE) || bytes.HasPrefix(raw, bomUTF16LE)
	if !utf16 && !utf8.Valid(raw) {
		return nil, fmt.Errorf("file is not valid UTF-8")
	}
	dec := xunicode.BOMOverride(xunicode.UTF8.NewDecoder())
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), dec))
	if err != nil {
		return nil, fmt.Errorf("decode text: %w", err)
	}
	return out, nil
}
