package codegen

import (
	"fmt"
	"sort"
	"strings"
)

// Imports are the packages every generated program uses.
var Imports = []string{
	"github.com/23skdu/longbow-parity/internal/artifact",
	"github.com/23skdu/longbow-parity/internal/nn",
	"github.com/23skdu/longbow-parity/internal/nn/native",
}

// Metadata is per module type extra source.
type Metadata struct {
	// Source is emitted once per program before the first variant of the
	// type.
	Source string
	// Imports are additional packages Source needs.
	Imports []string
	// InputConverter, when set, names a helper in Source that turns each
	// input-role tensor into the type the module's Forward accepts.
	InputConverter string
}

// ModuleMetadata holds the built-in metadata by module name. Types without
// an entry get the zero Metadata.
var ModuleMetadata = map[string]Metadata{
	"Embedding": {
		Source: `
func embeddingIndices(t *tensor.Tensor) (native.Indices, error) {
	return native.IndicesFrom(t)
}
`,
		Imports:        []string{"github.com/23skdu/longbow-parity/internal/tensor"},
		InputConverter: "embeddingIndices",
	},
}

// Program accumulates the source of all registered variants.
type Program struct {
	renderer  Renderer
	metadata  map[string]Metadata
	fragments strings.Builder
	functions []string
	imports   map[string]bool
	seen      map[string]bool
	names     map[string]bool
}

// NewProgram returns an empty program. A nil renderer selects the
// template renderer and nil metadata selects ModuleMetadata.
func NewProgram(r Renderer, metadata map[string]Metadata) *Program {
	if r == nil {
		r = NewTemplateRenderer()
	}
	if metadata == nil {
		metadata = ModuleMetadata
	}
	p := &Program{
		renderer: r,
		metadata: metadata,
		imports:  make(map[string]bool),
		seen:     make(map[string]bool),
		names:    make(map[string]bool),
	}
	for _, imp := range Imports {
		p.imports[imp] = true
	}
	return p
}

// Metadata returns the metadata registered for module.
func (p *Program) Metadata(module string) Metadata { return p.metadata[module] }

// Add renders tc for a variant of module and appends it, preceded by the
// module's metadata source the first time module is seen.
func (p *Program) Add(module string, tc TestCase) error {
	fn := tc.FunctionName()
	if p.names[fn] {
		return fmt.Errorf("codegen: duplicate function %s", fn)
	}
	src, err := p.renderer.Render(tc)
	if err != nil {
		return err
	}
	if !p.seen[module] {
		p.seen[module] = true
		md := p.metadata[module]
		for _, imp := range md.Imports {
			p.imports[imp] = true
		}
		p.fragments.WriteString(md.Source)
	}
	p.fragments.WriteString(src)
	p.names[fn] = true
	p.functions = append(p.functions, fn)
	return nil
}

// Functions lists the generated function names in registration order.
func (p *Program) Functions() []string { return append([]string(nil), p.functions...) }

// Len is the number of rendered variants.
func (p *Program) Len() int { return len(p.functions) }

// Source returns the complete program: package clause, imports, metadata
// fragments and test functions.
func (p *Program) Source() string {
	imports := make([]string, 0, len(p.imports))
	for imp := range p.imports {
		imports = append(imports, imp)
	}
	sort.Strings(imports)

	var b strings.Builder
	b.WriteString("package main\n\nimport (\n")
	for _, imp := range imports {
		fmt.Fprintf(&b, "\t%q\n", imp)
	}
	b.WriteString(")\n")
	b.WriteString(p.fragments.String())
	return b.String()
}
