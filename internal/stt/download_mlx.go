package stt

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hammamikhairi/wisprd/internal/domain"
)

// mlxPackage is the PyPI package providing the parakeet-mlx runtime the
// materialised transcribe.py imports (spec §4.B: "fetched via a Python
// package (parakeet-mlx or equivalent) running in a managed virtual
// environment").
const mlxPackage = "parakeet-mlx"

// transcribeScriptName is shared across every MLX repo under one venv
// (spec §4.B: "<cache>/<family>/.venv/"), so it is written once rather
// than per model.
const transcribeScriptName = "transcribe.py"

// downloadMLX materialises an MLX model artifact: create the shared
// venv if absent, pip install the runtime package into it, convert the
// named repo's weights, and write the `ready` sentinel the Registry's
// IsReady check looks for. Unlike downloadSingleFile/downloadTarball
// this has no byte-granular progress, so onProgress only receives
// stage transitions.
func (r *Registry) downloadMLX(ctx context.Context, modelName string, onProgress func(domain.ModelDownloadEvent)) error {
	venv := r.VenvPath()
	dest := r.ArtifactPath(modelName, domain.FamilyMLX)

	if err := r.ensureVenv(ctx, venv, modelName, onProgress); err != nil {
		return err
	}

	onProgress(domain.ModelDownloadEvent{Model: modelName, Stage: "installing", Message: mlxPackage})
	pip := filepath.Join(venv, "bin", "pip")
	if out, err := exec.CommandContext(ctx, pip, "install", "--upgrade", mlxPackage).CombinedOutput(); err != nil {
		return fmt.Errorf("stt: pip install %s: %w (%s)", mlxPackage, err, out)
	}

	if err := r.writeTranscribeScript(venv); err != nil {
		return err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	onProgress(domain.ModelDownloadEvent{Model: modelName, Stage: "converting", Message: modelName})
	python := filepath.Join(venv, "bin", "python3")
	script := filepath.Join(venv, transcribeScriptName)
	materialize := exec.CommandContext(ctx, python, script, "--materialize", "--repo", modelName, "--dest", dest)
	if out, err := materialize.CombinedOutput(); err != nil {
		return fmt.Errorf("stt: materialise mlx weights for %s: %w (%s)", modelName, err, out)
	}

	return os.WriteFile(filepath.Join(dest, "ready"), []byte("ok\n"), 0o644)
}

// ensureVenv creates the shared venv at venvDir if its interpreter
// isn't already present. A missing system python3 fails the download
// rather than silently falling back, since nothing downstream can
// recover without one.
func (r *Registry) ensureVenv(ctx context.Context, venvDir, modelName string, onProgress func(domain.ModelDownloadEvent)) error {
	python := filepath.Join(venvDir, "bin", "python3")
	if _, err := os.Stat(python); err == nil {
		return nil
	}

	onProgress(domain.ModelDownloadEvent{Model: modelName, Stage: "venv"})
	interpreter, err := exec.LookPath("python3")
	if err != nil {
		return fmt.Errorf("stt: no system python3 found to bootstrap mlx venv: %w", err)
	}
	if out, err := exec.CommandContext(ctx, interpreter, "-m", "venv", venvDir).CombinedOutput(); err != nil {
		return fmt.Errorf("stt: create mlx venv at %s: %w (%s)", venvDir, err, out)
	}
	return nil
}

// writeTranscribeScript installs the helper script mlx.Backend.Decode
// shells out to, if it isn't already there. It speaks the same
// line-based JSON-request/JSON-response contract mlx.Backend expects:
// one request object on argv, raw little-endian f32 PCM on stdin, one
// response object on stdout. The --materialize flag instead downloads
// and converts a repo's weights into --dest and exits, which is all
// downloadMLX needs from it.
func (r *Registry) writeTranscribeScript(venvDir string) error {
	path := filepath.Join(venvDir, transcribeScriptName)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(transcribeScriptSource), 0o755)
}

const transcribeScriptSource = `#!/usr/bin/env python3
# Materialises or runs a parakeet-mlx model. Installed once per venv by
# the Go registry's downloadMLX step; not hand-edited.
import argparse
import json
import sys


def materialize(repo, dest):
    from parakeet_mlx import from_pretrained

    model = from_pretrained(repo)
    model.save_pretrained(dest)


def transcribe(repo, request):
    import numpy as np
    from parakeet_mlx import from_pretrained

    model = from_pretrained(repo)
    raw = sys.stdin.buffer.read()
    samples = np.frombuffer(raw, dtype="<f4")
    result = model.transcribe(samples, language=request.get("language") or None)
    print(json.dumps({
        "text": result.text,
        "language": getattr(result, "language", request.get("language", "")),
        "segments": [
            {"text": s.text, "start": s.start, "end": s.end}
            for s in getattr(result, "segments", [])
        ],
    }))


def main():
    parser = argparse.ArgumentParser()
    parser.add_argument("--materialize", action="store_true")
    parser.add_argument("--repo", required=True)
    parser.add_argument("--dest")
    parser.add_argument("--request")
    args = parser.parse_args()

    if args.materialize:
        materialize(args.repo, args.dest)
        return

    request = json.loads(args.request) if args.request else {}
    try:
        transcribe(args.repo, request)
    except Exception as exc:  # surfaced as mlxResponse.Error by Backend.Decode
        print(json.dumps({"text": "", "segments": [], "error": str(exc)}))


if __name__ == "__main__":
    main()
`
