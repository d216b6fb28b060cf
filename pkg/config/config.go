package config

import (
	"fmt"
	"strings"

	"modernc.org/libqbe"
)

type Warning int

const (
	WarnImplicitDecl Warning = iota
	WarnUnreachableCode
	WarnType
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

// Soft limits on the engine tables.
// Exceeding one is an internal error, never silent truncation.
const (
	DefaultMaxLoopDepth      = 50
	DefaultMaxGotoLabels     = 50
	DefaultMaxBlanksPerLabel = 256
)

type Config struct {
	Warnings       map[Warning]Info
	WarningMap     map[string]Warning
	BackendName    string
	BackendTarget  string
	TargetArch     string
	WordSize       int
	WordType       string
	StackAlignment int

	MaxLoopDepth      int
	MaxGotoLabels     int
	MaxBlanksPerLabel int
}

func NewConfig() *Config {
	cfg := &Config{
		Warnings:          make(map[Warning]Info),
		WarningMap:        make(map[string]Warning),
		BackendName:       "qbe",
		WordSize:          8,
		WordType:          "l",
		StackAlignment:    16,
		MaxLoopDepth:      DefaultMaxLoopDepth,
		MaxGotoLabels:     DefaultMaxGotoLabels,
		MaxBlanksPerLabel: DefaultMaxBlanksPerLabel,
	}

	warnings := map[Warning]Info{
		WarnImplicitDecl:    {"implicit-decl", true, "Warn about calls to functions that were never declared."},
		WarnUnreachableCode: {"unreachable-code", true, "Warn about blocks no branch can reach."},
		WarnType:            {"type", false, "Warn about implicit int/double conversions."},
		WarnExtra:           {"extra", true, "Enable extra miscellaneous warnings."},
	}

	cfg.Warnings = warnings
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}
	return cfg
}

// SetTarget selects the backend and its target from a "backend/target" string
// such as "qbe", "qbe/arm64" or "llvm/x86_64-unknown-linux-gnu". An empty
// target picks the host's QBE target.
func (c *Config) SetTarget(goos, goarch, target string) error {
	backend, sub, _ := strings.Cut(target, "/")
	if backend == "" { backend = "qbe" }
	c.TargetArch = goarch

	switch backend {
	case "qbe":
		c.BackendName = "qbe"
		c.BackendTarget = sub
		if sub == "" { c.BackendTarget = libqbe.DefaultTarget(goos, goarch) }
		switch c.BackendTarget {
		case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
			c.WordSize, c.WordType, c.StackAlignment = 8, "l", 16
		case "arm", "rv32":
			c.WordSize, c.WordType, c.StackAlignment = 4, "w", 8
		default:
			return fmt.Errorf("unsupported QBE target '%s'", c.BackendTarget)
		}
	case "llvm":
		c.BackendName = "llvm"
		c.BackendTarget = sub
		c.WordSize, c.WordType, c.StackAlignment = 8, "l", 16
		switch goarch {
		case "386", "arm", "mips", "mipsle":
			c.WordSize, c.WordType, c.StackAlignment = 4, "w", 8
		}
	default:
		return fmt.Errorf("unsupported backend '%s'", backend)
	}
	return nil
}

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyFlag handles one -W flag: -Wall, -Wno-all, -W<name>, -Wno-<name>.
func (c *Config) ApplyFlag(flag string) error {
	name := strings.TrimPrefix(strings.TrimPrefix(flag, "-"), "W")
	enable := true
	if rest, ok := strings.CutPrefix(name, "no-"); ok {
		name, enable = rest, false
	}

	if name == "all" {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return nil
	}

	w, ok := c.WarningMap[name]
	if !ok { return fmt.Errorf("unknown warning '%s'", name) }
	c.SetWarning(w, enable)
	return nil
}

// ProcessFlags applies -Wall/-Wno-all before any specific warning so the
// specific ones win regardless of order on the command line.
func (c *Config) ProcessFlags(flags []string) error {
	isAll := func(f string) bool { return f == "-Wall" || f == "-Wno-all" || f == "Wall" || f == "Wno-all" }
	for _, f := range flags {
		if isAll(f) {
			if err := c.ApplyFlag(f); err != nil { return err }
		}
	}
	for _, f := range flags {
		if !isAll(f) {
			if err := c.ApplyFlag(f); err != nil { return err }
		}
	}
	return nil
}
