// Package codegen renders the Go source of the native forward/backward test
// functions. Nothing is executed here; the jit package compiles the result.
package codegen

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// FunctionSuffix is appended to a variant name to form its test function.
const FunctionSuffix = "_test_forward_backward"

// TestCase is everything needed to render one variant's test function.
type TestCase struct {
	VariantName string
	// QualifiedType is the native module type, e.g. "native.Linear".
	QualifiedType string
	// ConstructorArgs is Go source passed to the native constructor.
	ConstructorArgs   string
	Device            string
	TmpDir            string
	ArgStatements     []string
	ForwardArgSymbols []string
}

// FunctionName returns the generated function's name.
func (tc TestCase) FunctionName() string { return tc.VariantName + FunctionSuffix }

// Constructor returns the constructor expression for QualifiedType,
// "native.Linear" -> "native.NewLinear".
func (tc TestCase) Constructor() string {
	pkg, typ, ok := strings.Cut(tc.QualifiedType, ".")
	if !ok {
		return "New" + tc.QualifiedType
	}
	return pkg + ".New" + typ
}

// Renderer turns a TestCase into source text.
type Renderer interface {
	Render(tc TestCase) (string, error)
}

// TensorArg returns the statement binding the argument called name to a
// local of the same name.
func TensorArg(name string) string {
	return fmt.Sprintf("%s := args.Tensor(%q)", name, name)
}

// ConvertedArg binds name through a converter helper that returns
// (value, error).
func ConvertedArg(name, converter string) string {
	return fmt.Sprintf("%s, err := %s(args.Tensor(%q))\n\tif err != nil {\n\t\treturn err\n\t}", name, converter, name)
}

const forwardBackward = `
func {{.FunctionName}}() error {
	paths := artifact.PathsFor({{printf "%q" .TmpDir}}, {{printf "%q" .VariantName}})

	args, err := artifact.LoadArgDict(paths.ArgDict)
	if err != nil {
		return err
	}
{{- range .ArgStatements}}
	{{.}}
{{- end}}

	module, err := {{.Constructor}}({{.ConstructorArgs}})
	if err != nil {
		return err
	}
	if err := artifact.LoadModule(paths.Module, module); err != nil {
		return err
	}
	if err := module.To({{printf "%q" .Device}}); err != nil {
		return err
	}

	native.ManualSeed(0)

	output, err := module.Forward({{join .ForwardArgSymbols ", "}})
	if err != nil {
		return err
	}
	if err := artifact.WriteValue(paths.ForwardOutput, output); err != nil {
		return err
	}

	if err := native.Backward(module, output); err != nil {
		return err
	}
	grads, err := nn.GradDict(module)
	if err != nil {
		return err
	}
	return artifact.SaveTensorDict(paths.BackwardGrads, grads)
}
`

// TemplateRenderer renders test functions from a text/template.
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewTemplateRenderer parses the forward/backward template.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		tmpl: template.Must(template.New("forward_backward").
			Funcs(template.FuncMap{"join": strings.Join}).
			Parse(forwardBackward)),
	}
}

func (r *TemplateRenderer) Render(tc TestCase) (string, error) {
	switch {
	case tc.VariantName == "" || Identifier(tc.VariantName) != tc.VariantName:
		return "", fmt.Errorf("codegen: variant name %q is not an identifier", tc.VariantName)
	case tc.QualifiedType == "":
		return "", fmt.Errorf("codegen: %s: missing module type", tc.VariantName)
	case len(tc.ForwardArgSymbols) == 0:
		return "", fmt.Errorf("codegen: %s: no forward arguments", tc.VariantName)
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, tc); err != nil {
		return "", fmt.Errorf("codegen: render %s: %w", tc.VariantName, err)
	}
	return buf.String(), nil
}
