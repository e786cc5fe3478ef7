package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chainlesschain/skilltools/internal/observability"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinCatalog []byte

// BuiltinSource names the embedded catalog in reports and metrics.
const BuiltinSource = "builtin"

// Document is one raw catalog entry together with where it came from.
type Document struct {
	Source string
	Index  int
	Raw    map[string]any
}

// ID returns the entry's declared id, if any.
func (d Document) ID() string {
	id, _ := d.Raw["id"].(string)
	return id
}

// Rejection records a catalog entry that could not be installed.
type Rejection struct {
	Source string `json:"source"`
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Err    error  `json:"-"`
	Reason string `json:"reason"`
}

// Report summarizes one Install run.
type Report struct {
	Registered []string    `json:"registered"`
	Replaced   []string    `json:"replaced,omitempty"`
	Rejected   []Rejection `json:"rejected,omitempty"`
}

// OK reports whether every entry was installed.
func (r Report) OK() bool {
	return len(r.Rejected) == 0
}

// Err joins the rejection errors, or returns nil.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		errs = append(errs, fmt.Errorf("%s[%d] %s: %w", rej.Source, rej.Index, rej.ID, rej.Err))
	}
	return errors.Join(errs...)
}

func (r *Report) merge(other Report) {
	r.Registered = append(r.Registered, other.Registered...)
	r.Replaced = append(r.Replaced, other.Replaced...)
	r.Rejected = append(r.Rejected, other.Rejected...)
}

func (r *Report) reject(doc Document, err error) {
	rej := Rejection{Source: doc.Source, Index: doc.Index, ID: doc.ID(), Err: err, Reason: err.Error()}
	r.Rejected = append(r.Rejected, rej)

	observability.RecordCatalogRejected(sourceLabel(doc.Source))
	log.Error().
		Err(err).
		Str("source", doc.Source).
		Int("index", doc.Index).
		Str("tool", rej.ID).
		Msg("Catalog entry rejected")
}

func sourceLabel(source string) string {
	if source == BuiltinSource {
		return BuiltinSource
	}
	return "custom"
}

// ParseDocuments decodes catalog text. Accepted layouts are a mapping with a
// "tools" list, a bare list, or a single definition mapping. JSON input is
// read through the same YAML decoder.
func ParseDocuments(source string, data []byte) ([]Document, error) {
	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}

	var items []any
	switch v := root.(type) {
	case nil:
		return nil, nil
	case []any:
		items = v
	case map[string]any:
		if tools, ok := v["tools"]; ok {
			list, ok := tools.([]any)
			if !ok {
				return nil, fmt.Errorf("%s: \"tools\" must be a list", source)
			}
			items = list
		} else {
			items = []any{v}
		}
	default:
		return nil, fmt.Errorf("%s: unexpected top-level %T", source, root)
	}

	docs := make([]Document, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: entry must be a mapping, got %T", source, i, item)
		}
		docs = append(docs, Document{Source: source, Index: i, Raw: m})
	}
	return docs, nil
}

// LoadBuiltins returns the embedded builtin catalog entries.
func LoadBuiltins() ([]Document, error) {
	return ParseDocuments(BuiltinSource, builtinCatalog)
}

// IsCatalogFile reports whether path has a supported catalog extension.
func IsCatalogFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Decode turns documents into definitions. Builtin documents are marked
// builtin and custom ones are forced non-builtin.
func Decode(docs []Document) ([]*tooldef.ToolDefinition, Report) {
	var report Report
	defs := make([]*tooldef.ToolDefinition, 0, len(docs))
	for _, doc := range docs {
		def, err := tooldef.Decode(doc.Raw)
		if err != nil {
			report.reject(doc, err)
			continue
		}
		def.IsBuiltin = doc.Source == BuiltinSource
		defs = append(defs, def)
	}
	return defs, report
}

// Install decodes and registers documents. Nothing is dropped silently: every
// entry ends up either registered or in the report's rejections.
func Install(reg *registry.Registry, docs []Document) Report {
	var report Report
	for _, doc := range docs {
		defs, decoded := Decode([]Document{doc})
		report.merge(decoded)
		if len(defs) == 0 {
			continue
		}
		if err := reg.Register(defs[0]); err != nil {
			report.reject(doc, err)
			continue
		}
		report.Registered = append(report.Registered, defs[0].ID)
	}

	log.Info().
		Int("registered", len(report.Registered)).
		Int("rejected", len(report.Rejected)).
		Msg("Catalog installed")

	return report
}

// InstallBuiltins registers the embedded catalog.
func InstallBuiltins(reg *registry.Registry) (Report, error) {
	docs, err := LoadBuiltins()
	if err != nil {
		return Report{}, err
	}
	return Install(reg, docs), nil
}
