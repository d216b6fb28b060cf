package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const whileSrc = `func main 1
localloc i 1 4
label L1
t1 := local i 0
t2 := @i t1
t3 := 10
t4 := t2 <i t3
bt t4 B1
br B2
label L2
t5 := local i 0
t6 := @i t5
t7 := 1
t8 := t6 +i t7
t9 := t5 =i t8
br L1
label L3
t10 := 0
reti t10
fend
B1=L2
B2=L3
`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestUpdateThenPass(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	file := write(t, dir, "while.q", whileSrc)
	opts := options{target: "qbe/amd64_sysv", cache: map[string]string{}}

	missing := testFile(file, opts)
	assert.Equal(t, StatusError, missing.Status)

	opts.update = true
	updated := testFile(file, opts)
	require.Equal(t, StatusUpdated, updated.Status, updated.Message)

	golden, err := os.ReadFile(goldenPath(file))
	require.NoError(t, err)
	assert.Contains(t, string(golden), "---\n")
	assert.Contains(t, string(golden), "export function w $main() {")
	assert.Contains(t, string(golden), "csltw")

	opts.update = false
	passed := testFile(file, opts)
	assert.Equal(t, StatusPass, passed.Status, passed.Diff)
	assert.Equal(t, updated.digest, passed.digest)

	opts.cache[file] = passed.digest
	assert.Equal(t, StatusCached, testFile(file, opts).Status)
}

func TestMismatch(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	file := write(t, dir, "while.q", whileSrc)
	write(t, dir, "while.q.golden", "---\nsomething else\n")

	r := testFile(file, options{target: "qbe/amd64_sysv"})
	assert.Equal(t, StatusFail, r.Status)
	assert.Contains(t, r.Diff, "something else")
	assert.Empty(t, r.digest)
}

func TestRenderErrors(t *testing.T) {
	color.NoColor = true
	got := render("bad.q", []byte("func main 1\nbt t1 B1\nfend\n"), "qbe/amd64_sysv")
	assert.Equal(t, "---\nquad 2: conditional jump is not followed by a jump\n", got)

	got = render("call.q", []byte("func f 1\nfend\nfunc main 1\nt1 := global f\nt2 := 1\nargi t2\nt3 := fi t1 1 t2\nfend\n"), "qbe/amd64_sysv")
	assert.Contains(t, got, "error:")
	assert.Contains(t, got, "---\n1 error(s)\n")
}

func TestRunAllAndCache(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	a := write(t, dir, "a.q", whileSrc)
	b := write(t, dir, "b.q", "func main 1\nfend\n")

	paths, err := expandGlobs(filepath.Join(dir, "*.q") + " " + a)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, paths)

	results := runAll(paths, options{target: "qbe/amd64_sysv", update: true}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, a, results[0].File)

	cacheFile := filepath.Join(dir, "cache.json")
	require.NoError(t, saveCache(cacheFile, results))
	cache := loadCache(cacheFile)
	assert.Len(t, cache, 2)

	results = runAll(paths, options{target: "qbe/amd64_sysv", cache: cache}, 2)
	for _, r := range results {
		assert.Equal(t, StatusCached, r.Status, r.File)
	}

	assert.Empty(t, loadCache(filepath.Join(dir, "missing.json")))
	write(t, dir, "bad.json", "{")
	assert.Empty(t, loadCache(filepath.Join(dir, "bad.json")))
}
