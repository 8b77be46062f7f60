// Package stt implements the STT Backend Registry (§4.B) and Decoder
// (§4.C): resolving a model name to a backend family, downloading and
// caching model artifacts, and running the two-profile decode strategy
// against whichever native decoder backend the family maps to.
package stt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

// EnvModelDir overrides the cache root (spec §6).
const EnvModelDir = "OPENWISPR_MODEL_DIR"

var (
	transducerPattern = regexp.MustCompile(`(?i)parakeet.*int8|parakeet.*tdt`)
	mlxPattern        = regexp.MustCompile(`(?i)parakeet.*mlx|mlx.*parakeet`)
)

// ClassifyModel resolves a model_name to a backend family via the name
// patterns in spec §4.B. MLX models only resolve to the MLX family when
// the host OS supports the managed Python runtime (darwin/arm64 today);
// otherwise they fall back to whisper-family naming rules not matching
// and the caller gets ErrModelNotFound.
func ClassifyModel(modelName string) domain.BackendFamily {
	switch {
	case mlxPattern.MatchString(modelName) && mlxSupported():
		return domain.FamilyMLX
	case transducerPattern.MatchString(modelName):
		return domain.FamilyTransducer
	default:
		return domain.FamilyWhisper
	}
}

func mlxSupported() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// Registry resolves model names to on-disk artifacts, downloading and
// caching them as needed.
type Registry struct {
	log      *logger.Logger
	cacheDir string

	mu        sync.Mutex
	artifacts map[string]*domain.ModelArtifact

	// dl collapses concurrent Download calls for the same model into a
	// single in-flight fetch, so two commands racing to fetch the model
	// the hotkey needs don't both hit the network (spec §6 download
	// commands are idempotent from the caller's perspective).
	dl singleflight.Group
}

// NewRegistry resolves the cache directory (env override, else OS
// per-user cache path, creating it if absent) and returns a Registry.
func NewRegistry(log *logger.Logger) (*Registry, error) {
	dir, err := resolveCacheDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("stt: create cache dir %s: %w", dir, err)
	}
	return &Registry{
		log:       log,
		cacheDir:  dir,
		artifacts: make(map[string]*domain.ModelArtifact),
	}, nil
}

func resolveCacheDir() (string, error) {
	if dir := os.Getenv(EnvModelDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("stt: resolve user cache dir: %w", err)
	}
	return filepath.Join(base, "openwispr", "models"), nil
}

// CacheDir returns the resolved cache root.
func (r *Registry) CacheDir() string {
	return r.cacheDir
}

// ArtifactPath returns the expected on-disk root for a model without
// touching the network (used to check Ready status and for download
// destinations).
func (r *Registry) ArtifactPath(modelName string, family domain.BackendFamily) string {
	familyDir := filepath.Join(r.cacheDir, family.String())
	switch family {
	case domain.FamilyWhisper:
		return filepath.Join(familyDir, fmt.Sprintf("ggml-%s.bin", modelName))
	case domain.FamilyTransducer:
		return filepath.Join(familyDir, releaseDirName(modelName))
	case domain.FamilyMLX:
		return filepath.Join(familyDir, sanitizeRepoID(modelName))
	default:
		return familyDir
	}
}

// VenvPath returns the shared Python virtual environment root used by
// every MLX model (spec §4.B: "<cache>/<family>/.venv/"). All MLX
// repos materialise into sibling directories under the same family
// dir and share this one interpreter.
func (r *Registry) VenvPath() string {
	return filepath.Join(r.cacheDir, domain.FamilyMLX.String(), ".venv")
}

func releaseDirName(modelName string) string {
	return strings.ReplaceAll(modelName, "/", "_")
}

func sanitizeRepoID(repoID string) string {
	s := strings.ReplaceAll(repoID, "/", "__")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

// transducerFiles are the backend-specific constituent names for a
// transducer release (§3 ModelArtifact).
var transducerFiles = []string{"encoder.onnx", "decoder.onnx", "joiner.onnx", "tokens.txt"}

// IsReady reports whether every required constituent file for the given
// family/path exists on disk (invariant I2).
func (r *Registry) IsReady(modelName string, family domain.BackendFamily) bool {
	path := r.ArtifactPath(modelName, family)
	switch family {
	case domain.FamilyWhisper:
		info, err := os.Stat(path)
		return err == nil && !info.IsDir() && info.Size() > 0
	case domain.FamilyTransducer:
		for _, f := range transducerFiles {
			if _, err := os.Stat(filepath.Join(path, f)); err != nil {
				return false
			}
		}
		return true
	case domain.FamilyMLX:
		_, err := os.Stat(filepath.Join(path, "ready"))
		return err == nil
	default:
		return false
	}
}

// Describe returns the current ModelArtifact descriptor for a model,
// refreshing Status from disk.
func (r *Registry) Describe(modelName string) domain.ModelArtifact {
	family := ClassifyModel(modelName)
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.artifacts[modelName]
	if !ok {
		a = &domain.ModelArtifact{ModelName: modelName, Family: family}
		r.artifacts[modelName] = a
	}
	if a.Status != domain.ArtifactDownloading {
		if r.IsReady(modelName, family) {
			a.Status = domain.ArtifactReady
			a.Path = r.ArtifactPath(modelName, family)
		} else {
			a.Status = domain.ArtifactMissing
		}
	}
	return *a
}

func (r *Registry) setStatus(modelName string, status domain.ArtifactStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.artifacts[modelName]; ok {
		a.Status = status
	}
}

// KnownModels is the built-in catalogue offered by list_models (§6):
// the whisper-family sizes plus the one transducer and one MLX model
// this build knows how to fetch.
var KnownModels = []string{
	"tiny", "tiny.en",
	"base", "base.en",
	"small", "small.en",
	"medium", "medium.en",
	"large-v3", "large-v3-turbo",
	"parakeet-tdt-0.6b-v2-int8",
	"parakeet-mlx",
}

// Delete removes a model's on-disk artifact. Refuses (ErrModelActive)
// when isActive reports the model is the one currently loaded by the
// decoder, matching spec §6 "delete_model (refuses if active)".
func (r *Registry) Delete(modelName string, isActive bool) error {
	if isActive {
		return domain.ErrModelActive
	}
	family := ClassifyModel(modelName)
	path := r.ArtifactPath(modelName, family)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("stt: delete %s: %w", modelName, err)
	}
	r.setStatus(modelName, domain.ArtifactMissing)
	return nil
}
