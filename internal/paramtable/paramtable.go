// Package paramtable loads the declarative table of module test parameters.
//
// The table is HCL. Each test block describes one module variant:
//
//	test {
//	  fullname                = "Linear_no_bias"
//	  constructor_args        = [3, 5, false]
//	  native_constructor_args = "native.NewLinearOptions(3, 5).Bias(false)"
//	  input_size              = [4, 3]
//	}
package paramtable

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

//go:embed tables/*.hcl
var defaultTables embed.FS

type hclFile struct {
	Tests []*hclTest `hcl:"test,block"`
}

type hclTest struct {
	Fullname              string    `hcl:"fullname,optional"`
	ModuleName            string    `hcl:"module_name,optional"`
	Desc                  string    `hcl:"desc,optional"`
	ConstructorArgs       cty.Value `hcl:"constructor_args,optional"`
	ConstructorKwargs     cty.Value `hcl:"constructor_kwargs,optional"`
	NativeConstructorArgs *string   `hcl:"native_constructor_args,optional"`
	InputSize             cty.Value `hcl:"input_size,optional"`
	Input                 cty.Value `hcl:"input,optional"`
	InputKind             string    `hcl:"input_kind,optional"`
	InputHigh             *int      `hcl:"input_high,optional"`
	TargetSize            cty.Value `hcl:"target_size,optional"`
	TargetKind            string    `hcl:"target_kind,optional"`
	ExtraArgs             cty.Value `hcl:"extra_args,optional"`
	HasParity             *bool     `hcl:"has_parity,optional"`
	TestCuda              *bool     `hcl:"test_cuda,optional"`
	Criterion             *bool     `hcl:"criterion,optional"`
	Seed                  *int      `hcl:"seed,optional"`
}

// Params is one decoded test block.
type Params struct {
	Fullname   string
	ModuleName string
	Desc       string

	ConstructorArgs       []any
	ConstructorKwargs     map[string]any
	HasConstructorArgs    bool
	NativeConstructorArgs string
	HasNativeArgs         bool

	Inputs  []ArgSpec
	Targets []ArgSpec
	Extra   []ArgSpec

	HasParity bool
	TestCuda  bool
	// Criterion overrides the registry's criterion flag when set.
	Criterion *bool
	Seed      uint64

	// Source is "file#n", the n-th test block of file.
	Source string
}

// Module returns the module name: the fullname prefix before the first
// '_', else ModuleName.
func (p Params) Module() string {
	if p.Fullname != "" {
		name, _, _ := strings.Cut(p.Fullname, "_")
		return name
	}
	return p.ModuleName
}

// Name is the variant name without device suffix.
func (p Params) Name() string {
	if p.Fullname != "" {
		return p.Fullname
	}
	if p.Desc != "" {
		return p.ModuleName + "_" + p.Desc
	}
	return p.ModuleName
}

// Parse decodes the test blocks of one HCL document.
func Parse(src []byte, filename string) ([]Params, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}
	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, diags)
	}

	out := make([]Params, 0, len(parsed.Tests))
	for i, t := range parsed.Tests {
		p, err := convert(t)
		if err != nil {
			return nil, fmt.Errorf("%s: test block %d: %w", filename, i+1, err)
		}
		p.Source = fmt.Sprintf("%s#%d", filename, i+1)
		if p.Seed == 0 {
			p.Seed = uint64(i + 1)
		}
		out = append(out, p)
	}
	return out, nil
}

func convert(t *hclTest) (Params, error) {
	p := Params{
		Fullname:   t.Fullname,
		ModuleName: t.ModuleName,
		Desc:       t.Desc,
		HasParity:  boolOr(t.HasParity, true),
		TestCuda:   boolOr(t.TestCuda, true),
		Criterion:  t.Criterion,
	}
	if p.Fullname == "" && p.ModuleName == "" {
		return Params{}, fmt.Errorf("one of fullname or module_name is required")
	}
	if t.Seed != nil {
		p.Seed = uint64(*t.Seed)
	}

	if !isNull(t.ConstructorArgs) {
		v, err := ctyToNative(t.ConstructorArgs)
		if err != nil {
			return Params{}, fmt.Errorf("constructor_args: %w", err)
		}
		list, ok := v.([]any)
		if !ok {
			return Params{}, fmt.Errorf("constructor_args must be a list")
		}
		p.ConstructorArgs, p.HasConstructorArgs = list, true
	}
	if !isNull(t.ConstructorKwargs) {
		v, err := ctyToNative(t.ConstructorKwargs)
		if err != nil {
			return Params{}, fmt.Errorf("constructor_kwargs: %w", err)
		}
		m, ok := v.(map[string]any)
		if !ok {
			return Params{}, fmt.Errorf("constructor_kwargs must be an object")
		}
		p.ConstructorKwargs = m
	}
	if t.NativeConstructorArgs != nil {
		p.NativeConstructorArgs, p.HasNativeArgs = *t.NativeConstructorArgs, true
	}

	kind, err := parseKind(t.InputKind)
	if err != nil {
		return Params{}, fmt.Errorf("input_kind: %w", err)
	}
	high := 0
	if t.InputHigh != nil {
		high = *t.InputHigh
	}
	if kind == Index && high <= 0 {
		return Params{}, fmt.Errorf("input_kind index requires a positive input_high")
	}
	switch {
	case !isNull(t.Input):
		spec, err := literal(t.Input)
		if err != nil {
			return Params{}, fmt.Errorf("input: %w", err)
		}
		spec.Kind = kind
		p.Inputs = []ArgSpec{spec}
	case !isNull(t.InputSize):
		p.Inputs, err = shapes(t.InputSize, kind, high)
		if err != nil {
			return Params{}, fmt.Errorf("input_size: %w", err)
		}
	default:
		return Params{}, fmt.Errorf("one of input or input_size is required")
	}

	targetKind, err := parseKind(t.TargetKind)
	if err != nil {
		return Params{}, fmt.Errorf("target_kind: %w", err)
	}
	if !isNull(t.TargetSize) {
		if p.Targets, err = shapes(t.TargetSize, targetKind, high); err != nil {
			return Params{}, fmt.Errorf("target_size: %w", err)
		}
	}
	if !isNull(t.ExtraArgs) {
		if p.Extra, err = shapes(t.ExtraArgs, Normal, 0); err != nil {
			return Params{}, fmt.Errorf("extra_args: %w", err)
		}
	}
	return p, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func isNull(v cty.Value) bool {
	return v == cty.NilVal || v.IsNull()
}

// Load reads path, a single .hcl file or a directory of them.
func Load(path string) ([]Params, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return Parse(src, path)
	}
	return loadFS(os.DirFS(path), ".", path)
}

// LoadDefault loads the table compiled into the binary.
func LoadDefault() ([]Params, error) {
	return loadFS(defaultTables, "tables", "tables")
}

func loadFS(fsys fs.FS, dir, label string) ([]Params, error) {
	names, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(dir, "*.hcl")))
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no .hcl files in %s", label)
	}
	sort.Strings(names)
	var all []Params
	for _, name := range names {
		src, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		params, err := Parse(src, filepath.Join(label, filepath.Base(name)))
		if err != nil {
			return nil, err
		}
		all = append(all, params...)
	}
	return all, nil
}
