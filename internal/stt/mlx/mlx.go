// Package mlx runs MLX-family models (Apple Silicon only) through a
// Python subprocess that owns a managed venv, shelling out to a helper
// script per decode rather than binding to a native library directly.
package mlx

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/stt"
)

// Backend invokes a helper script (transcribe.py, installed into the
// shared venv by Registry.downloadMLX) once per Decode call, passing
// raw PCM on stdin and reading a JSON result from stdout.
type Backend struct {
	mu        sync.Mutex
	venvDir   string
	modelRepo string
}

// New returns an unloaded Backend; Load must be called before Decode.
func New(_ string) (stt.Backend, error) {
	return &Backend{}, nil
}

// Load resolves modelPath's sibling shared venv (<family-dir>/.venv,
// materialised by Registry.downloadMLX alongside every repo directory)
// and checks its interpreter exists. modelRepo is recovered from the
// directory name the Registry sanitised the repo id into.
func (b *Backend) Load(modelPath string, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.venvDir = filepath.Join(filepath.Dir(modelPath), ".venv")
	b.modelRepo = filepath.Base(modelPath)

	python := filepath.Join(b.venvDir, "bin", "python3")
	if _, err := exec.Command(python, "--version").CombinedOutput(); err != nil {
		return fmt.Errorf("mlx: venv interpreter not found at %s: %w", python, err)
	}
	return nil
}

type mlxRequest struct {
	SampleRate  int     `json:"sample_rate"`
	Language    string  `json:"language,omitempty"`
	Task        string  `json:"task"`
	Temperature float32 `json:"temperature"`
}

type mlxResponse struct {
	Text       string           `json:"text"`
	Language   string           `json:"language"`
	Confidence *float32         `json:"confidence,omitempty"`
	Segments   []mlxSegmentWire `json:"segments"`
	Error      string           `json:"error,omitempty"`
}

type mlxSegmentWire struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Decode shells out to the venv's transcribe.py, streaming samples as
// little-endian f32 PCM on stdin and parsing one JSON object from
// stdout. profile.Temperature is forwarded; MLX's greedy/beam toggle
// has no analogue so Greedy is ignored beyond picking temperature 0.
func (b *Backend) Decode(ctx context.Context, samples []float32, cfg domain.STTConfig, profile stt.DecodeProfile) (domain.Transcription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.venvDir == "" {
		return domain.Transcription{}, fmt.Errorf("mlx: backend not loaded")
	}

	task := "transcribe"
	if cfg.Task == domain.TaskTranslate {
		task = "translate"
	}
	req := mlxRequest{SampleRate: 16000, Language: cfg.LanguageHint, Task: task, Temperature: profile.Temperature}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return domain.Transcription{}, err
	}

	python := filepath.Join(b.venvDir, "bin", "python3")
	script := filepath.Join(b.venvDir, "transcribe.py")
	cmd := exec.CommandContext(ctx, python, script, "--repo", b.modelRepo, "--request", string(reqJSON))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return domain.Transcription{}, err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return domain.Transcription{}, fmt.Errorf("mlx: start transcribe.py: %w", err)
	}

	if err := binary.Write(stdin, binary.LittleEndian, samples); err != nil {
		stdin.Close()
		return domain.Transcription{}, fmt.Errorf("mlx: write pcm to stdin: %w", err)
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		return domain.Transcription{}, fmt.Errorf("mlx: transcribe.py failed: %w (%s)", err, stderr.String())
	}

	var resp mlxResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return domain.Transcription{}, fmt.Errorf("mlx: parse response: %w", err)
	}
	if resp.Error != "" {
		return domain.Transcription{}, fmt.Errorf("mlx: %s", resp.Error)
	}

	segments := make([]domain.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, domain.Segment{Text: s.Text, StartS: s.Start, EndS: s.End})
	}

	return domain.Transcription{
		Text:       resp.Text,
		Language:   resp.Language,
		Confidence: resp.Confidence,
		Segments:   segments,
	}, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.venvDir = ""
	return nil
}
