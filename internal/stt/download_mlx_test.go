package stt

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/hammamikhairi/wisprd/internal/domain"
)

// fakeVenvPython writes an executable shell script standing in for a
// real python3 interpreter. Invoked as `python3 -m venv <dir>` it
// populates <dir>/bin/python3 and <dir>/bin/pip with copies of itself
// so later steps (pip install, the transcribe.py materialize call)
// find a working interpreter too; any other invocation just logs to
// logPath and exits 0. Stands in for a network-dependent real venv +
// pip install without needing either.
func fakeVenvPython(t *testing.T, path, logPath string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell scripts require a POSIX shell")
	}
	script := `#!/bin/sh
if [ "$1" = "-m" ] && [ "$2" = "venv" ]; then
  mkdir -p "$3/bin"
  cp "$0" "$3/bin/python3"
  cp "$0" "$3/bin/pip"
  exit 0
fi
echo "$0 $*" >> ` + strconv.Quote(logPath) + `
exit 0
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake python3: %v", err)
	}
}

func TestDownloadMLXMaterializesVenvAndReadySentinel(t *testing.T) {
	r := testRegistry(t)

	binDir := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "calls.log")
	fakeVenvPython(t, filepath.Join(binDir, "python3"), logPath)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	var events []domain.ModelDownloadEvent
	err := r.downloadMLX(context.Background(), "parakeet-mlx", func(ev domain.ModelDownloadEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("downloadMLX: %v", err)
	}

	dest := r.ArtifactPath("parakeet-mlx", domain.FamilyMLX)
	if _, err := os.Stat(filepath.Join(dest, "ready")); err != nil {
		t.Fatalf("expected ready sentinel at %s: %v", dest, err)
	}
	if !r.IsReady("parakeet-mlx", domain.FamilyMLX) {
		t.Fatalf("expected IsReady true after downloadMLX")
	}

	venvPython := filepath.Join(r.VenvPath(), "bin", "python3")
	if _, err := os.Stat(venvPython); err != nil {
		t.Fatalf("expected venv interpreter materialised at %s: %v", venvPython, err)
	}
	script := filepath.Join(r.VenvPath(), transcribeScriptName)
	if _, err := os.Stat(script); err != nil {
		t.Fatalf("expected %s installed at %s: %v", transcribeScriptName, script, err)
	}

	stageSet := map[string]bool{}
	for _, ev := range events {
		stageSet[ev.Stage] = true
	}
	for _, want := range []string{"venv", "installing", "converting"} {
		if !stageSet[want] {
			t.Errorf("expected %q stage, got %+v", want, events)
		}
	}
}

func TestDownloadMLXSkipsVenvCreationWhenPresent(t *testing.T) {
	r := testRegistry(t)

	venv := r.VenvPath()
	if err := os.MkdirAll(filepath.Join(venv, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(t.TempDir(), "calls.log")
	fakeVenvPython(t, filepath.Join(venv, "bin", "python3"), logPath)
	fakeVenvPython(t, filepath.Join(venv, "bin", "pip"), logPath)

	var stages []string
	err := r.downloadMLX(context.Background(), "parakeet-mlx", func(ev domain.ModelDownloadEvent) {
		stages = append(stages, ev.Stage)
	})
	if err != nil {
		t.Fatalf("downloadMLX: %v", err)
	}
	for _, s := range stages {
		if s == "venv" {
			t.Fatalf("expected venv creation to be skipped when interpreter already present, got stages %v", stages)
		}
	}
}

func TestRegistryDownloadRoutesMLXToDownloadMLX(t *testing.T) {
	if runtime.GOOS != "darwin" || runtime.GOARCH != "arm64" {
		t.Skip("ClassifyModel only resolves the mlx family on darwin/arm64")
	}
	r := testRegistry(t)

	venv := r.VenvPath()
	if err := os.MkdirAll(filepath.Join(venv, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(t.TempDir(), "calls.log")
	fakeVenvPython(t, filepath.Join(venv, "bin", "python3"), logPath)
	fakeVenvPython(t, filepath.Join(venv, "bin", "pip"), logPath)

	err := r.Download(context.Background(), "parakeet-mlx", DownloadSource{RepoID: "parakeet-mlx"}, func(domain.ModelDownloadEvent) {})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if a := r.Describe("parakeet-mlx"); a.Status != domain.ArtifactReady {
		t.Fatalf("expected ArtifactReady, got %v", a.Status)
	}
}

func TestEnsureVenvFailsWithoutSystemPython(t *testing.T) {
	r := testRegistry(t)
	t.Setenv("PATH", t.TempDir())

	err := r.downloadMLX(context.Background(), "parakeet-mlx", func(domain.ModelDownloadEvent) {})
	if err == nil {
		t.Fatal("expected error when no system python3 is on PATH")
	}
}
