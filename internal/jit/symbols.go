package jit

import (
	"reflect"

	"github.com/traefik/yaegi/interp"

	"github.com/23skdu/longbow-parity/internal/artifact"
	"github.com/23skdu/longbow-parity/internal/nn"
	"github.com/23skdu/longbow-parity/internal/nn/native"
	"github.com/23skdu/longbow-parity/internal/tensor"
)

// Symbols exposes the harness packages to interpreted code.
var Symbols = interp.Exports{
	"github.com/23skdu/longbow-parity/internal/tensor/tensor": {
		"New":       reflect.ValueOf(tensor.New),
		"Zeros":     reflect.ValueOf(tensor.Zeros),
		"Scalar":    reflect.ValueOf(tensor.Scalar),
		"Densify":   reflect.ValueOf(tensor.Densify),
		"NewDict":   reflect.ValueOf(tensor.NewDict),
		"Tensor":    reflect.ValueOf((*tensor.Tensor)(nil)),
		"Dict":      reflect.ValueOf((*tensor.Dict)(nil)),
		"Tolerance": reflect.ValueOf((*tensor.Tolerance)(nil)),
	},
	"github.com/23skdu/longbow-parity/internal/nn/nn": {
		"Backward":         reflect.ValueOf(nn.Backward),
		"GradDict":         reflect.ValueOf(nn.GradDict),
		"LoadState":        reflect.ValueOf(nn.LoadState),
		"To":               reflect.ValueOf(nn.To),
		"Trace":            reflect.ValueOf(nn.Trace),
		"ZeroGrad":         reflect.ValueOf(nn.ZeroGrad),
		"ErrNoForward":     reflect.ValueOf(&nn.ErrNoForward).Elem(),
		"ErrNoGrad":        reflect.ValueOf(&nn.ErrNoGrad).Elem(),
		"ErrStateMismatch": reflect.ValueOf(&nn.ErrStateMismatch).Elem(),
		"Module":           reflect.ValueOf((*nn.Module)(nil)),
		"Named":            reflect.ValueOf((*nn.Named)(nil)),
		"Snapshot":         reflect.ValueOf((*nn.Snapshot)(nil)),
		"Stateful":         reflect.ValueOf((*nn.Stateful)(nil)),
	},
	"github.com/23skdu/longbow-parity/internal/artifact/artifact": {
		"PathsFor":       reflect.ValueOf(artifact.PathsFor),
		"LoadArgDict":    reflect.ValueOf(artifact.LoadArgDict),
		"SaveArgDict":    reflect.ValueOf(artifact.SaveArgDict),
		"LoadModule":     reflect.ValueOf(artifact.LoadModule),
		"SaveModule":     reflect.ValueOf(artifact.SaveModule),
		"WriteValue":     reflect.ValueOf(artifact.WriteValue),
		"ReadValue":      reflect.ValueOf(artifact.ReadValue),
		"SaveTensorDict": reflect.ValueOf(artifact.SaveTensorDict),
		"LoadTensorDict": reflect.ValueOf(artifact.LoadTensorDict),
		"ArgDict":        reflect.ValueOf((*artifact.ArgDict)(nil)),
		"Paths":          reflect.ValueOf((*artifact.Paths)(nil)),
		"Value":          reflect.ValueOf((*artifact.Value)(nil)),
	},
	"github.com/23skdu/longbow-parity/internal/nn/native/native": {
		"ManualSeed":  reflect.ValueOf(native.ManualSeed),
		"Backward":    reflect.ValueOf(native.Backward),
		"IndicesFrom": reflect.ValueOf(native.IndicesFrom),
		"Indices":     reflect.ValueOf((*native.Indices)(nil)),

		"NewLinear":          reflect.ValueOf(native.NewLinear),
		"NewLinearOptions":   reflect.ValueOf(native.NewLinearOptions),
		"LinearOptions":      reflect.ValueOf((*native.LinearOptions)(nil)),
		"Linear":             reflect.ValueOf((*native.Linear)(nil)),
		"NewBilinear":        reflect.ValueOf(native.NewBilinear),
		"NewBilinearOptions": reflect.ValueOf(native.NewBilinearOptions),
		"BilinearOptions":    reflect.ValueOf((*native.BilinearOptions)(nil)),
		"Bilinear":           reflect.ValueOf((*native.Bilinear)(nil)),

		"NewReLU":    reflect.ValueOf(native.NewReLU),
		"ReLU":       reflect.ValueOf((*native.ReLU)(nil)),
		"NewTanh":    reflect.ValueOf(native.NewTanh),
		"Tanh":       reflect.ValueOf((*native.Tanh)(nil)),
		"NewSigmoid": reflect.ValueOf(native.NewSigmoid),
		"Sigmoid":    reflect.ValueOf((*native.Sigmoid)(nil)),
		"NewGELU":    reflect.ValueOf(native.NewGELU),
		"GELU":       reflect.ValueOf((*native.GELU)(nil)),

		"NewSoftmax":        reflect.ValueOf(native.NewSoftmax),
		"NewSoftmaxOptions": reflect.ValueOf(native.NewSoftmaxOptions),
		"SoftmaxOptions":    reflect.ValueOf((*native.SoftmaxOptions)(nil)),
		"Softmax":           reflect.ValueOf((*native.Softmax)(nil)),
		"NewPReLU":          reflect.ValueOf(native.NewPReLU),
		"NewPReLUOptions":   reflect.ValueOf(native.NewPReLUOptions),
		"PReLUOptions":      reflect.ValueOf((*native.PReLUOptions)(nil)),
		"PReLU":             reflect.ValueOf((*native.PReLU)(nil)),
		"NewRReLU":          reflect.ValueOf(native.NewRReLU),
		"NewRReLUOptions":   reflect.ValueOf(native.NewRReLUOptions),
		"RReLUOptions":      reflect.ValueOf((*native.RReLUOptions)(nil)),
		"RReLU":             reflect.ValueOf((*native.RReLU)(nil)),
		"NewDropout":        reflect.ValueOf(native.NewDropout),
		"NewDropoutOptions": reflect.ValueOf(native.NewDropoutOptions),
		"DropoutOptions":    reflect.ValueOf((*native.DropoutOptions)(nil)),
		"Dropout":           reflect.ValueOf((*native.Dropout)(nil)),

		"NewLayerNorm":        reflect.ValueOf(native.NewLayerNorm),
		"NewLayerNormOptions": reflect.ValueOf(native.NewLayerNormOptions),
		"LayerNormOptions":    reflect.ValueOf((*native.LayerNormOptions)(nil)),
		"LayerNorm":           reflect.ValueOf((*native.LayerNorm)(nil)),
		"NewBatchNorm1d":      reflect.ValueOf(native.NewBatchNorm1d),
		"NewBatchNormOptions": reflect.ValueOf(native.NewBatchNormOptions),
		"BatchNormOptions":    reflect.ValueOf((*native.BatchNormOptions)(nil)),
		"BatchNorm1d":         reflect.ValueOf((*native.BatchNorm1d)(nil)),

		"NewEmbedding":        reflect.ValueOf(native.NewEmbedding),
		"NewEmbeddingOptions": reflect.ValueOf(native.NewEmbeddingOptions),
		"EmbeddingOptions":    reflect.ValueOf((*native.EmbeddingOptions)(nil)),
		"Embedding":           reflect.ValueOf((*native.Embedding)(nil)),
		"NewMSELoss":          reflect.ValueOf(native.NewMSELoss),
		"NewMSELossOptions":   reflect.ValueOf(native.NewMSELossOptions),
		"MSELossOptions":      reflect.ValueOf((*native.MSELossOptions)(nil)),
		"MSELoss":             reflect.ValueOf((*native.MSELoss)(nil)),
	},
}
