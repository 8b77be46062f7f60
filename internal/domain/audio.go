// Package domain defines the core types and interfaces shared by every
// dictation-pipeline component. It depends on nothing else in the module.
package domain

import "time"

// AudioFormat describes the shape of a PCM buffer. Once capture begins
// for a Session, the format does not change until the session ends.
type AudioFormat struct {
	SampleRateHz  uint32
	Channels      uint16
	BitsPerSample uint16
}

// Session is one logical dictation instance. At most one exists at any
// instant (invariant I1), owned by the Session Orchestrator.
type Session struct {
	StartTime             time.Time
	IsHandsFree           bool
	CapturedSamples       []float32
	CaptureFormat         AudioFormat
	ForegroundTarget      ForegroundTarget
	RecordingActive       bool
	ArmedCommandMode      bool // command-mode hotkey was pressed before this session
}

// Task selects the STT operating mode.
type Task int

const (
	TaskTranscribe Task = iota
	TaskTranslate
)

// STTConfig configures a single decode request.
type STTConfig struct {
	ModelName     string
	ModelPath     string // optional explicit override
	LanguageHint  string // empty -> auto-detect
	Task          Task
}

// ArtifactStatus is the lifecycle of a ModelArtifact (invariant I2).
type ArtifactStatus int

const (
	ArtifactMissing ArtifactStatus = iota
	ArtifactDownloading
	ArtifactReady
)

// BackendFamily identifies which native decoder family a model belongs to.
type BackendFamily int

const (
	FamilyWhisper BackendFamily = iota
	FamilyTransducer
	FamilyMLX
)

func (f BackendFamily) String() string {
	switch f {
	case FamilyWhisper:
		return "whisper"
	case FamilyTransducer:
		return "transducer"
	case FamilyMLX:
		return "mlx"
	default:
		return "unknown"
	}
}

// ModelArtifact is a logical model bundle identified by name. Physical
// form depends on the backend family (§3 ModelArtifact).
type ModelArtifact struct {
	ModelName string
	Family    BackendFamily
	Status    ArtifactStatus
	// Path is the resolved root: a single file for whisper, a directory
	// for transducer/MLX.
	Path string
}

// Segment is one timed fragment of a Transcription.
type Segment struct {
	Text    string
	StartS  float64
	EndS    float64
}

// Transcription is the result of one decode call.
type Transcription struct {
	Text       string
	Language   string // empty if unknown
	Confidence *float32
	Segments   []Segment
}

// IsEmpty implements the decoder's "empty" predicate: trimmed text is
// empty AND there are no segments.
func (t Transcription) IsEmpty() bool {
	return trimmedEmpty(t.Text) && len(t.Segments) == 0
}

func trimmedEmpty(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
