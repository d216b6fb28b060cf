package codegen

import (
	"bytes"
	"fmt"

	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/ir"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes an IR program and a configuration, and produces the target
	// assembly as a byte buffer.
	Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error)
	// GenerateIR renders the backend's own textual IR without assembling it.
	GenerateIR(prog *ir.Program, cfg *config.Config) (string, error)
}

// NewBackend returns the backend selected by cfg.BackendName.
func NewBackend(cfg *config.Config) (Backend, error) {
	switch cfg.BackendName {
	case "qbe", "": return NewQBEBackend(), nil
	case "llvm": return NewLLVMBackend(), nil
	default: return nil, fmt.Errorf("unsupported backend '%s'", cfg.BackendName)
	}
}
