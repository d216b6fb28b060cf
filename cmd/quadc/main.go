package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/xplshn/quadc/pkg/cfg"
	"github.com/xplshn/quadc/pkg/cli"
	"github.com/xplshn/quadc/pkg/codegen"
	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/lower"
	"github.com/xplshn/quadc/pkg/quad"
	"github.com/xplshn/quadc/pkg/symtab"
	"github.com/xplshn/quadc/pkg/util"
)

var log = commonlog.GetLogger("quadc")

func main() {
	app := cli.NewApp("quadc")
	app.Synopsis = "[options] <input.q> ..."
	app.Description = "Lowers quadruple programs to QBE or LLVM and links them into an executable."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/quadc>"

	var (
		outFile    string
		target     string
		linkerArgs []string
		warnFlags  []string
		dumpIR     bool
		verbose    bool
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "a.out", "Place the output into <file>. A .s, .ssa or .ll name stops before linking.", "file")
	fs.String(&target, "target", "t", "qbe", "Set the backend and target ABI.", "backend/target")
	fs.Bool(&dumpIR, "dump-ir", "d", false, "Dump the backend IR and exit.")
	fs.Bool(&verbose, "verbose", "v", false, "Log each compilation stage.")
	fs.List(&linkerArgs, "linker-arg", "L", []string{}, "Pass an argument to the linker.", "arg")
	fs.Special(&warnFlags, "W", "Enable or disable a warning (-Wall, -Wno-<name>).", "warning")

	conf := config.NewConfig()

	app.Action = func(inputFiles []string) error {
		if verbose {
			commonlog.Configure(2, nil)
		} else {
			commonlog.Configure(0, nil)
		}

		if len(inputFiles) == 0 { return fmt.Errorf("no input files specified") }
		flags := make([]string, len(warnFlags))
		for i, w := range warnFlags {
			flags[i] = "W" + w
		}
		if err := conf.ProcessFlags(flags); err != nil { return err }
		if err := conf.SetTarget(runtime.GOOS, runtime.GOARCH, target); err != nil { return err }
		log.Infof("backend %s, target %q, word size %d", conf.BackendName, conf.BackendTarget, conf.WordSize)

		rep := util.NewReporter(nil, conf)
		backend, err := codegen.NewBackend(conf)
		if err != nil { return err }

		var out string
		var compileErr error
		if ierr := util.Catch(func() { out, compileErr = compile(inputFiles, conf, rep, backend, dumpIR || isIRFile(outFile)) }); ierr != nil {
			util.Fatal(ierr)
		}
		if compileErr != nil { return compileErr }
		if rep.ErrorCount() > 0 { return fmt.Errorf("%d error(s)", rep.ErrorCount()) }

		switch {
		case dumpIR:
			fmt.Print(out)
			return nil
		case isIRFile(outFile) || filepath.Ext(outFile) == ".s":
			log.Infof("writing '%s'", outFile)
			return os.WriteFile(outFile, []byte(out), 0o644)
		}

		log.Infof("linking '%s'", outFile)
		return link(outFile, out, linkerArgs)
	}

	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func isIRFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".ssa" || ext == ".ll"
}

// compile runs every input through the pipeline and returns either the
// backend IR (irOnly) or the assembly. It stops early, with an empty result,
// once the reporter has counted an error.
func compile(paths []string, conf *config.Config, rep *util.Reporter, backend codegen.Backend, irOnly bool) (string, error) {
	graph := &cfg.Graph{}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil { return "", fmt.Errorf("could not read file '%s': %w", path, err) }
		quads, err := quad.Parse(path, f)
		f.Close()
		if err != nil { return "", err }
		log.Debugf("%s: %d quads", path, len(quads))

		g, err := cfg.Build(quads)
		if err != nil { return "", fmt.Errorf("%s: %w", path, err) }
		graph.Globals = append(graph.Globals, g.Globals...)
		graph.Funcs = append(graph.Funcs, g.Funcs...)
	}
	log.Infof("%d function(s), %d global(s)", len(graph.Funcs), len(graph.Globals))

	ctx := lower.New(conf, symtab.New(), rep)
	if len(paths) == 1 { ctx.SetFile(paths[0]) }
	prog := ctx.Lower(graph)
	if rep.ErrorCount() > 0 { return "", nil }
	log.Debugf("lowered:\n%s", lower.Dump(prog))

	if irOnly {
		text, err := backend.GenerateIR(prog, conf)
		if err != nil { return "", fmt.Errorf("backend IR generation failed: %w", err) }
		return text, nil
	}

	log.Infof("generating code with '%s' backend", conf.BackendName)
	asm, err := backend.Generate(prog, conf)
	if err != nil { return "", fmt.Errorf("backend code generation failed: %w", err) }
	return asm.String(), nil
}

func link(outFile, asm string, linkerArgs []string) error {
	asmFile, err := os.CreateTemp("", "quadc-main-*.s")
	if err != nil { return fmt.Errorf("failed to create temp file for asm: %w", err) }
	defer os.Remove(asmFile.Name())
	if _, err := asmFile.WriteString(asm); err != nil {
		asmFile.Close()
		return fmt.Errorf("failed to write asm: %w", err)
	}
	asmFile.Close()

	ccArgs := append([]string{"-no-pie", "-o", outFile, asmFile.Name()}, linkerArgs...)
	cmd := exec.Command("cc", ccArgs...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cc command failed: %w\nOutput:\n%s", err, string(output))
	}
	return nil
}
