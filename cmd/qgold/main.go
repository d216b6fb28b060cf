// qgold compiles every matching .q file in-process and compares the
// diagnostics and backend IR with the file's .golden sibling.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
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

var log = commonlog.GetLogger("qgold")

type Status string

const (
	StatusPass    Status = "PASS"
	StatusCached  Status = "CACHED"
	StatusUpdated Status = "UPDATED"
	StatusFail    Status = "FAIL"
	StatusError   Status = "ERROR"
)

type Result struct {
	File    string
	Status  Status
	Message string
	Diff    string
	digest  string
}

type options struct {
	target string
	update bool
	cache  map[string]string
}

func main() {
	app := cli.NewApp("qgold")
	app.Synopsis = "[options]"
	app.Description = "Golden-file tests for quadc."

	var (
		files     string
		target    string
		cacheFile string
		jobs      int
		update    bool
		verbose   bool
	)
	fs := app.FlagSet
	fs.String(&files, "files", "f", "tests/*.q", "Glob pattern(s) for files to test (space-separated).", "glob")
	fs.String(&target, "target", "t", "qbe/amd64_sysv", "Backend and target used to render IR.", "backend/target")
	fs.String(&cacheFile, "cache", "c", ".qgold_cache.json", "File of digests for files that passed; empty disables it.", "file")
	fs.Int(&jobs, "jobs", "j", runtime.NumCPU(), "Number of parallel jobs.")
	fs.Bool(&update, "update", "u", false, "Rewrite golden files with the current output.")
	fs.Bool(&verbose, "verbose", "v", false, "Log every file.")

	app.Action = func([]string) error {
		if verbose {
			commonlog.Configure(2, nil)
		} else {
			commonlog.Configure(0, nil)
		}

		paths, err := expandGlobs(files)
		if err != nil { return err }
		if len(paths) == 0 {
			fmt.Println("No test files found matching the pattern(s).")
			return nil
		}

		opts := options{target: target, update: update, cache: loadCache(cacheFile)}
		summary := newPalette(!color.NoColor)
		// Diagnostics end up in golden files, so they are always rendered plain.
		color.NoColor = true

		results := runAll(paths, opts, max(jobs, 1))
		printSummary(summary, results)

		if cacheFile != "" {
			if err := saveCache(cacheFile, results); err != nil { log.Errorf("writing cache: %s", err) }
		}
		for _, r := range results {
			if r.Status == StatusFail || r.Status == StatusError { return fmt.Errorf("golden tests failed") }
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func expandGlobs(patterns string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Fields(patterns) {
		matches, err := filepath.Glob(p)
		if err != nil { return nil, fmt.Errorf("invalid glob '%s': %w", p, err) }
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func goldenPath(file string) string { return file + ".golden" }

func runAll(paths []string, opts options, jobs int) []*Result {
	tasks := make(chan string, len(paths))
	results := make(chan *Result, len(paths))
	var wg sync.WaitGroup

	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				results <- testFile(file, opts)
			}
		}()
	}
	for _, p := range paths {
		tasks <- p
	}
	close(tasks)
	wg.Wait()
	close(results)

	var all []*Result
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].File < all[j].File })
	return all
}

func digest(target string, src, golden []byte) string {
	h := xxhash.New()
	h.WriteString(target)
	h.Write([]byte{0})
	h.Write(src)
	h.Write([]byte{0})
	h.Write(golden)
	return fmt.Sprintf("%x", h.Sum64())
}

func testFile(file string, opts options) *Result {
	src, err := os.ReadFile(file)
	if err != nil { return &Result{File: file, Status: StatusError, Message: err.Error()} }
	golden, goldenErr := os.ReadFile(goldenPath(file))

	sum := digest(opts.target, src, golden)
	if !opts.update && goldenErr == nil && opts.cache[file] == sum {
		log.Debugf("%s: cached", file)
		return &Result{File: file, Status: StatusCached, digest: sum}
	}

	got := render(file, src, opts.target)
	if opts.update {
		if err := os.WriteFile(goldenPath(file), []byte(got), 0o644); err != nil {
			return &Result{File: file, Status: StatusError, Message: err.Error()}
		}
		return &Result{File: file, Status: StatusUpdated, digest: digest(opts.target, src, []byte(got))}
	}
	if goldenErr != nil {
		return &Result{File: file, Status: StatusError, Message: "no golden file (run with -update)"}
	}

	if diff := cmp.Diff(strings.Split(string(golden), "\n"), strings.Split(got, "\n")); diff != "" {
		return &Result{File: file, Status: StatusFail, Message: "output differs from golden file", Diff: diff}
	}
	log.Debugf("%s: pass", file)
	return &Result{File: file, Status: StatusPass, digest: sum}
}

// render compiles src and returns its diagnostics followed by the backend IR,
// or by the error that stopped compilation.
func render(file string, src []byte, target string) string {
	conf := config.NewConfig()
	var diags bytes.Buffer
	var out strings.Builder

	var text string
	err := conf.SetTarget(runtime.GOOS, runtime.GOARCH, target)
	if err == nil {
		var compileErr error
		err = util.Catch(func() { text, compileErr = compileIR(filepath.Base(file), src, conf, util.NewReporter(&diags, conf)) })
		if err == nil { err = compileErr }
	}

	out.WriteString(diags.String())
	out.WriteString("---\n")
	if err != nil {
		fmt.Fprintf(&out, "%s\n", err)
		return out.String()
	}
	out.WriteString(text)
	return out.String()
}

func compileIR(name string, src []byte, conf *config.Config, rep *util.Reporter) (string, error) {
	quads, err := quad.Parse(name, bytes.NewReader(src))
	if err != nil { return "", err }
	g, err := cfg.Build(quads)
	if err != nil { return "", err }

	ctx := lower.New(conf, symtab.New(), rep)
	ctx.SetFile(name)
	prog := ctx.Lower(g)
	if rep.ErrorCount() > 0 { return "", fmt.Errorf("%d error(s)", rep.ErrorCount()) }

	backend, err := codegen.NewBackend(conf)
	if err != nil { return "", err }
	return backend.GenerateIR(prog, conf)
}

func loadCache(path string) map[string]string {
	cache := make(map[string]string)
	if path == "" { return cache }
	data, err := os.ReadFile(path)
	if err != nil { return cache }
	if err := json.Unmarshal(data, &cache); err != nil {
		log.Warningf("could not parse cache file %s, ignoring it", path)
		return make(map[string]string)
	}
	return cache
}

func saveCache(path string, results []*Result) error {
	cache := make(map[string]string)
	for _, r := range results {
		if r.digest != "" { cache[r.File] = r.digest }
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil { return err }
	return os.WriteFile(path, data, 0o644)
}

type palette struct{ pass, fail, warn, info *color.Color }

func newPalette(enabled bool) palette {
	p := palette{
		pass: color.New(color.FgGreen, color.Bold),
		fail: color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow, color.Bold),
		info: color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.pass, p.fail, p.warn, p.info} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func printSummary(p palette, results []*Result) {
	counts := make(map[Status]int)
	for _, r := range results {
		counts[r.Status]++
		switch r.Status {
		case StatusFail:
			fmt.Printf("%s %s: %s\n%s\n", p.fail.Sprint("[FAIL]"), r.File, r.Message, r.Diff)
		case StatusError:
			fmt.Printf("%s %s: %s\n", p.fail.Sprint("[ERROR]"), r.File, r.Message)
		case StatusUpdated:
			fmt.Printf("%s %s\n", p.warn.Sprint("[UPDATED]"), r.File)
		}
	}

	fmt.Printf("\n%s %d passed, %d cached, %d updated, %d failed, %d errors\n",
		p.info.Sprint("Summary:"),
		counts[StatusPass], counts[StatusCached], counts[StatusUpdated], counts[StatusFail], counts[StatusError])
	if counts[StatusFail]+counts[StatusError] == 0 {
		fmt.Println(p.pass.Sprint("All tests passed."))
	}
}
