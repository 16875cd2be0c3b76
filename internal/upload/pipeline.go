// Package upload drives a drawing from local file to submitted review task:
// validate the file, hold it as the current selection with a reusable
// preview copy, then run the three-step submission protocol against the
// backend. Backend state for the created task arrives through the push
// channel, not from this package.
package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/api"
	"github.com/nuance-sudo/drawing-practice-agent-gch4/internal/review"
)

// MaxFileSize is the largest accepted drawing, 10 MiB.
const MaxFileSize = 10 << 20

// State is the pipeline's submission phase.
type State string

const (
	StateIdle       State = "idle"
	StateSelected   State = "selected"
	StateSubmitting State = "submitting"
)

// ValidationError rejects a candidate file before any network traffic.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid drawing file: " + e.Reason
}

// ReviewAPI is the slice of the backend client the pipeline needs.
type ReviewAPI interface {
	CreateUploadURL(ctx context.Context, contentType string) (api.UploadTarget, error)
	UploadObject(ctx context.Context, uploadURL, contentType string, body []byte) error
	CreateReview(ctx context.Context, publicURL string) (review.Document, error)
	RetryImages(ctx context.Context, taskID string) error
}

// Candidate is a validated local file held as the current selection.
type Candidate struct {
	Path        string
	ContentType string
	Size        int64
}

// Preview is a private temp-file copy of the selected drawing, usable for
// display while the original may be moved or rewritten. Release removes the
// copy and is safe to call more than once.
type Preview struct {
	Path string

	release sync.Once
}

func (p *Preview) Release() {
	p.release.Do(func() {
		_ = os.Remove(p.Path)
	})
}

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var extContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// Pipeline is the submission state machine. All methods are safe for
// concurrent use; Submit releases the lock while talking to the backend so
// observers can see the submitting phase.
type Pipeline struct {
	backend ReviewAPI
	logger  *log.Logger

	mu       sync.Mutex
	state    State
	selected *Candidate
	preview  *Preview
	lastErr  error
}

func NewPipeline(backend ReviewAPI, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Pipeline{
		backend: backend,
		logger:  logger.With("component", "upload"),
		state:   StateIdle,
	}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Selected returns the current candidate, or nil when idle.
func (p *Pipeline) Selected() *Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Preview returns the preview copy for the current selection, or nil.
func (p *Pipeline) Preview() *Preview {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preview
}

// Err returns the error from the most recent failed submission. A new
// selection or a successful submission clears it.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// SelectFile validates the file and makes it the current selection. A
// rejected file changes nothing: the prior selection, preview and state all
// survive, and no network request is made.
func (p *Pipeline) SelectFile(path string) error {
	candidate, err := validateFile(path)
	if err != nil {
		return err
	}

	preview, err := copyToPreview(path)
	if err != nil {
		return fmt.Errorf("create preview copy: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateSubmitting {
		preview.Release()
		return review.ErrInvalidState
	}
	if p.preview != nil {
		p.preview.Release()
	}
	p.selected = &candidate
	p.preview = preview
	p.state = StateSelected
	p.lastErr = nil
	return nil
}

// Clear drops the current selection and releases its preview. A no-op while
// a submission is in flight.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateSubmitting {
		return
	}
	if p.preview != nil {
		p.preview.Release()
	}
	p.selected = nil
	p.preview = nil
	p.state = StateIdle
	p.lastErr = nil
}

// Submit runs the three-step protocol for the current selection: authorize
// the upload, transfer the bytes, create the task record. On success the
// selection is consumed and the pipeline returns to idle. On failure at any
// step the selection and preview are retained so the caller can retry
// without re-selecting.
func (p *Pipeline) Submit(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.state != StateSelected || p.selected == nil {
		p.mu.Unlock()
		return "", review.ErrInvalidState
	}
	candidate := *p.selected
	p.state = StateSubmitting
	p.mu.Unlock()

	taskID, err := p.submit(ctx, candidate)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateSelected
		p.lastErr = err
		return "", err
	}
	if p.preview != nil {
		p.preview.Release()
	}
	p.selected = nil
	p.preview = nil
	p.state = StateIdle
	p.lastErr = nil
	return taskID, nil
}

func (p *Pipeline) submit(ctx context.Context, candidate Candidate) (string, error) {
	body, err := os.ReadFile(candidate.Path)
	if err != nil {
		return "", fmt.Errorf("read drawing: %w", err)
	}

	target, err := p.backend.CreateUploadURL(ctx, candidate.ContentType)
	if err != nil {
		return "", fmt.Errorf("authorize upload: %w", err)
	}
	p.logger.Debug("upload authorized", "public_url", target.PublicURL)

	if err := p.backend.UploadObject(ctx, target.UploadURL, candidate.ContentType, body); err != nil {
		return "", fmt.Errorf("transfer drawing: %w", err)
	}

	doc, err := p.backend.CreateReview(ctx, target.PublicURL)
	if err != nil {
		return "", fmt.Errorf("create review task: %w", err)
	}
	p.logger.Info("drawing submitted", "task", doc.ID, "size", candidate.Size)
	return doc.ID, nil
}

// RetryImages re-requests the derived images for a completed task.
func (p *Pipeline) RetryImages(ctx context.Context, taskID string) error {
	if strings.TrimSpace(taskID) == "" {
		return fmt.Errorf("task id is required")
	}
	return p.backend.RetryImages(ctx, taskID)
}

func validateFile(path string) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, &ValidationError{Reason: err.Error()}
	}
	if info.IsDir() {
		return Candidate{}, &ValidationError{Reason: "is a directory"}
	}
	if info.Size() == 0 {
		return Candidate{}, &ValidationError{Reason: "file is empty"}
	}
	if info.Size() > MaxFileSize {
		return Candidate{}, &ValidationError{Reason: fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), MaxFileSize)}
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, ok := extContentTypes[ext]
	if !ok {
		return Candidate{}, &ValidationError{Reason: fmt.Sprintf("unsupported extension %q", ext)}
	}

	sniffed, err := sniffContentType(path)
	if err != nil {
		return Candidate{}, &ValidationError{Reason: err.Error()}
	}
	if !allowedContentTypes[sniffed] {
		return Candidate{}, &ValidationError{Reason: fmt.Sprintf("content looks like %s, want jpeg, png or webp", sniffed)}
	}

	return Candidate{Path: path, ContentType: contentType, Size: info.Size()}, nil
}

func sniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func copyToPreview(path string) (*Preview, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "drawing-preview-*"+filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, err
	}
	return &Preview{Path: tmp.Name()}, nil
}
