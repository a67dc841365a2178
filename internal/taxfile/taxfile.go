// Package taxfile loads taxonomy definition files (YAML or TOML) into a rule
// hierarchy.
package taxfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	cterrors "codetax/internal/errors"
	"codetax/internal/taxonomy"
)

// Format is a taxonomy file encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// StringList accepts either a single string or a list of strings
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

// UnmarshalTOML implements toml.Unmarshaler
func (s *StringList) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*s = StringList{v}
		return nil
	case []interface{}:
		list := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected a list of strings, got %T", item)
			}
			list = append(list, str)
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected a string or a list of strings, got %T", data)
	}
}

// RuleSpec is one rule as written in a taxonomy file
type RuleSpec struct {
	Name      string                 `yaml:"name" toml:"name"`
	Parent    StringList             `yaml:"parent,omitempty" toml:"parent,omitempty"`
	Epic      string                 `yaml:"epic,omitempty" toml:"epic,omitempty"`
	Pattern   string                 `yaml:"pattern,omitempty" toml:"pattern,omitempty"`
	Fragments map[string]string      `yaml:"fragments,omitempty" toml:"fragments,omitempty"`
	Paths     []string               `yaml:"paths,omitempty" toml:"paths,omitempty"`
	Globs     []string               `yaml:"globs,omitempty" toml:"globs,omitempty"`
	Prune     *bool                  `yaml:"prune,omitempty" toml:"prune,omitempty"`
	Predicate *taxonomy.PredicateDef `yaml:"predicate,omitempty" toml:"predicate,omitempty"`
}

// File is a whole taxonomy definition
type File struct {
	Name        string     `yaml:"name,omitempty" toml:"name,omitempty"`
	Description string     `yaml:"description,omitempty" toml:"description,omitempty"`
	Rules       []RuleSpec `yaml:"rules" toml:"rules"`
}

// DetectFormat picks the encoding from the file extension
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", configError(fmt.Sprintf("unknown taxonomy file type: %s", path), nil)
	}
}

// Load reads and parses a taxonomy file
func Load(path string) (*File, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("read taxonomy file", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		var cterr *cterrors.CodetaxError
		if errors.As(err, &cterr) {
			return nil, cterr.WithDetails(map[string]interface{}{"file": path})
		}
		return nil, err
	}
	return f, nil
}

// Parse decodes a taxonomy. Unknown keys are rejected.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, configError("parse taxonomy file", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, configError("parse taxonomy file", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			sort.Strings(keys)
			return nil, configError("unknown keys in taxonomy file: "+strings.Join(keys, ", "), nil)
		}
	default:
		return nil, configError(fmt.Sprintf("unsupported taxonomy format: %s", format), nil)
	}

	if len(f.Rules) == 0 {
		return nil, configError("taxonomy file defines no rules", nil)
	}
	for i, r := range f.Rules {
		if r.Name == "" {
			return nil, configError(fmt.Sprintf("rule %d has no name", i+1), nil)
		}
	}
	return &f, nil
}

// Defs converts the file into rule definitions
func (f *File) Defs() []taxonomy.RuleDef {
	defs := make([]taxonomy.RuleDef, 0, len(f.Rules))
	for _, r := range f.Rules {
		defs = append(defs, taxonomy.RuleDef{
			Name:      r.Name,
			Parents:   r.Parent,
			Epic:      r.Epic,
			Template:  r.Pattern,
			Fragments: r.Fragments,
			Paths:     r.Paths,
			Globs:     r.Globs,
			Prune:     r.Prune,
			Predicate: r.Predicate,
		})
	}
	return defs
}

// Build resolves the file into a hierarchy
func (f *File) Build(opts taxonomy.BuildOptions) (*taxonomy.Hierarchy, error) {
	reg := taxonomy.NewRegistry()
	for _, def := range f.Defs() {
		reg.Define(def)
	}
	return reg.Build(opts)
}

// LoadHierarchy loads path and builds its hierarchy
func LoadHierarchy(path string, opts taxonomy.BuildOptions) (*taxonomy.Hierarchy, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	return f.Build(opts)
}

func configError(msg string, cause error) error {
	return cterrors.NewError(cterrors.ConfigurationError, msg, cause, nil)
}
