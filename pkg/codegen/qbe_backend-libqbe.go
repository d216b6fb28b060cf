//go:build !windows

package codegen

import (
	"bytes"
	"strings"

	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/ir"
	"modernc.org/libqbe"
)

// Generate assembles the QBE text in-process.
func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	src, err := b.GenerateIR(prog, cfg)
	if err != nil { return nil, err }

	var asm bytes.Buffer
	if err := libqbe.Main(cfg.BackendTarget, qbeSource, strings.NewReader(src), &asm, nil); err != nil {
		return nil, assemblyError(cfg.BackendTarget, src, err)
	}
	return &asm, nil
}
