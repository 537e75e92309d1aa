package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintFileMarkers(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "q.go", "package q\n\n"+
		"const QGood = `--sql 8a1c85d5-ca49-4b36-96bb-4b1bfa7eb90b\nselect 1;\n`\n\n"+
		"const QMissing = `select 2;`\n\n"+
		"const Label = \"not a query\"\n")

	violations, err := lintFile(path, map[string]violation{})
	if err != nil {
		t.Fatalf("lintFile: %v", err)
	}
	if len(violations) != 1 || violations[0].name != "QMissing" {
		t.Fatalf("violations = %+v", violations)
	}
}

func TestLintFileDuplicateMarkerAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	marker := "--sql 4a36a983-5562-4f52-8542-f9a304583e94"
	first := writeSource(t, dir, "a.go", "package q\n\nconst QA = `"+marker+"\nselect 1;\n`\n")
	second := writeSource(t, dir, "b.go", "package q\n\nconst QB = `"+marker+"\nupdate t set x = 1;\n`\n")

	seen := map[string]violation{}
	if vs, err := lintFile(first, seen); err != nil || len(vs) != 0 {
		t.Fatalf("first file: %v %+v", err, vs)
	}
	vs, err := lintFile(second, seen)
	if err != nil {
		t.Fatalf("lintFile: %v", err)
	}
	if len(vs) != 1 || !strings.Contains(vs[0].message, "QA") {
		t.Fatalf("violations = %+v", vs)
	}
}
