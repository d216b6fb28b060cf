//go:build windows

package codegen

import (
	"bytes"

	"github.com/tliron/commonlog"
	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/ir"
)

// Generate pipes the QBE text through the qbe executable.
func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	commonlog.GetLogger("quadc.codegen").Notice("libqbe is unavailable on windows, using qbe from PATH")

	src, err := b.GenerateIR(prog, cfg)
	if err != nil { return nil, err }

	asm, err := runTool("qbe", ".ssa", src, "-t", cfg.BackendTarget)
	if err != nil { return nil, assemblyError(cfg.BackendTarget, src, err) }
	return asm, nil
}
