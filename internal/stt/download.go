package stt

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hammamikhairi/wisprd/internal/domain"
)

// progressDeltaBytes is the minimum byte delta between emitted progress
// events (spec §6: "monotone, emitted at >= 256KiB deltas").
const progressDeltaBytes = 256 * 1024

// DownloadSource describes where to fetch a model's bytes from.
type DownloadSource struct {
	// URL is the whisper-family single-file download location, or the
	// transducer-family release tarball location.
	URL string
	// RepoID is the MLX-family huggingface repo id. MLX models are
	// fetched by Registry.downloadMLX (Python venv install and convert)
	// instead of this HTTP path, which works from the model name.
	RepoID string
}

// Download fetches and installs a model artifact, emitting progress
// events through onProgress as bytes arrive. It follows the atomic
// rename protocol: bytes land in a sibling "<name>.download" file (or
// directory, for tarball unpacks) and are only moved into place once
// complete, so a half-downloaded file can never be mistaken for Ready
// (invariant I2).
func (r *Registry) Download(ctx context.Context, modelName string, src DownloadSource, onProgress func(domain.ModelDownloadEvent)) error {
	_, err, _ := r.dl.Do(modelName, func() (interface{}, error) {
		return nil, r.downloadOnce(ctx, modelName, src, onProgress)
	})
	return err
}

func (r *Registry) downloadOnce(ctx context.Context, modelName string, src DownloadSource, onProgress func(domain.ModelDownloadEvent)) error {
	family := ClassifyModel(modelName)
	r.setStatus(modelName, domain.ArtifactDownloading)

	var err error
	switch family {
	case domain.FamilyWhisper:
		err = r.downloadSingleFile(ctx, modelName, src.URL, onProgress)
	case domain.FamilyTransducer:
		err = r.downloadTarball(ctx, modelName, src.URL, onProgress)
	case domain.FamilyMLX:
		err = r.downloadMLX(ctx, modelName, onProgress)
	default:
		err = domain.ErrModelNotFound
	}

	if err != nil {
		r.setStatus(modelName, domain.ArtifactMissing)
		onProgress(domain.ModelDownloadEvent{Model: modelName, Stage: "error", Done: true, Error: err.Error()})
		return fmt.Errorf("stt: download %s: %w", modelName, domain.ErrDownloadFailed)
	}

	r.setStatus(modelName, domain.ArtifactReady)
	onProgress(domain.ModelDownloadEvent{Model: modelName, Stage: "ready", Percent: 100, Done: true})
	return nil
}

func (r *Registry) downloadSingleFile(ctx context.Context, modelName, url string, onProgress func(domain.ModelDownloadEvent)) error {
	dest := r.ArtifactPath(modelName, domain.FamilyWhisper)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".download"

	if err := streamToFile(ctx, url, tmp, modelName, onProgress); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

func (r *Registry) downloadTarball(ctx context.Context, modelName, url string, onProgress func(domain.ModelDownloadEvent)) error {
	dest := r.ArtifactPath(modelName, domain.FamilyTransducer)
	tmpDir := dest + ".download"
	os.RemoveAll(tmpDir)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}

	archivePath := filepath.Join(os.TempDir(), fmt.Sprintf("wisprd-%s-%d.tar.bz2", sanitizeRepoID(modelName), time.Now().UnixNano()%1000000))
	if err := streamToFile(ctx, url, archivePath, modelName, onProgress); err != nil {
		os.RemoveAll(tmpDir)
		return err
	}
	defer os.Remove(archivePath)

	onProgress(domain.ModelDownloadEvent{Model: modelName, Stage: "unpacking"})
	if err := unpackBzip2Tar(archivePath, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return err
	}

	os.RemoveAll(dest)
	return os.Rename(tmpDir, dest)
}

func streamToFile(ctx context.Context, url, dest, modelName string, onProgress func(domain.ModelDownloadEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stt: download %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	total := resp.ContentLength
	var downloaded, sinceLast int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			downloaded += int64(n)
			sinceLast += int64(n)
			if sinceLast >= progressDeltaBytes {
				sinceLast = 0
				pct := 0.0
				if total > 0 {
					pct = float64(downloaded) / float64(total) * 100
				}
				onProgress(domain.ModelDownloadEvent{
					Model: modelName, Stage: "downloading",
					DownloadedBytes: downloaded, TotalBytes: total, Percent: pct,
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}

func unpackBzip2Tar(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(bzip2.NewReader(f))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.Base(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
