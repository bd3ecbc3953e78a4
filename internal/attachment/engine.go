// Package attachment decides how the files of a job travel with its email:
// attached one by one, compressed into a zip archive, or uploaded to cloud
// storage and linked from the body.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"MailCourier/internal/models"
)

type Mode string

const (
	ModeNone      Mode = "none"
	ModeDirect    Mode = "direct"
	ModeZip       Mode = "zip"
	ModeCloudLink Mode = "cloud-link"
)

const megabyte = 1024 * 1024

var (
	ErrNoMatchingFiles     = errors.New("no matching files")
	ErrTooLargeNoCloud     = errors.New("attachment too large and no cloud storage available")
	ErrTooLargeCloudFailed = errors.New("attachment too large and cloud upload failed")
)

// Uploader is the cloud storage capability the engine falls back to for
// oversized payloads.
type Uploader interface {
	IsAvailable(ctx context.Context) (bool, error)
	UploadAndLink(ctx context.Context, path, shareType, recipient string) (string, error)
}

// Limits are the thresholds in bytes.
type Limits struct {
	FileCountThreshold int
	AllowedExtensions  []string
	MaxSize            int64
	SafeSize           int64
	CloudThreshold     int64
	// EstimateRatio predicts the compressed size from the raw size. It is a
	// tunable heuristic, not a bound.
	EstimateRatio float64
}

func DefaultLimits() Limits {
	return Limits{
		FileCountThreshold: 5,
		AllowedExtensions:  []string{"all"},
		MaxSize:            25 * megabyte,
		SafeSize:           20 * megabyte,
		CloudThreshold:     20 * megabyte,
		EstimateRatio:      0.9,
	}
}

// LimitsFromSettings converts megabyte settings to byte limits, keeping the
// defaults for unset values.
func LimitsFromSettings(s models.AttachmentSettings, estimateRatio float64) Limits {
	l := DefaultLimits()
	if s.FileCountThreshold > 0 {
		l.FileCountThreshold = s.FileCountThreshold
	}
	if len(s.AllowedExtensions) > 0 {
		l.AllowedExtensions = s.AllowedExtensions
	}
	if s.MaxSizeMB > 0 {
		l.MaxSize = int64(s.MaxSizeMB) * megabyte
	}
	if s.SafeSizeMB > 0 {
		l.SafeSize = int64(s.SafeSizeMB) * megabyte
	}
	if s.CloudThresholdMB > 0 {
		l.CloudThreshold = int64(s.CloudThresholdMB) * megabyte
	}
	if estimateRatio > 0 {
		l.EstimateRatio = estimateRatio
	}
	return l
}

type Request struct {
	Path      string
	Label     string
	Recipient string
	ShareType string
	Limits    Limits
}

type Link struct {
	Name string
	URL  string
}

type Decision struct {
	Mode        Mode
	Files       []File
	ArchivePath string
	TotalSize   int64
	Links       []Link
	// LinkBlock is the HTML appended to the body in cloud-link mode.
	LinkBlock string
}

// Local returns the files to attach to the outgoing message.
func (d *Decision) Local() []File {
	switch d.Mode {
	case ModeDirect:
		return d.Files
	case ModeZip:
		return []File{{
			Path:        d.ArchivePath,
			Name:        filepath.Base(d.ArchivePath),
			ContentType: "application/zip",
			Size:        d.TotalSize,
		}}
	}
	return nil
}

// Cleanup removes the archive produced for the decision, if any.
func (d *Decision) Cleanup() error {
	if d == nil || d.ArchivePath == "" {
		return nil
	}
	err := os.Remove(d.ArchivePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type Engine struct {
	archiveDir string
	uploader   Uploader
	log        *zap.Logger
	now        func() time.Time
}

// NewEngine builds an engine writing archives to archiveDir. uploader may be
// nil, in which case cloud storage is never available.
func NewEngine(archiveDir string, uploader Uploader, logger *zap.Logger) *Engine {
	return &Engine{
		archiveDir: archiveDir,
		uploader:   uploader,
		log:        logger.Named("attachment"),
		now:        time.Now,
	}
}

// Estimate predicts the payload size of files without compressing them: the
// raw size when they would be attached directly, the raw size scaled by
// EstimateRatio when they would be zipped.
func Estimate(files []File, limits Limits) int64 {
	raw := TotalSize(files)
	if len(files) <= limits.FileCountThreshold {
		return raw
	}
	ratio := limits.EstimateRatio
	if ratio <= 0 {
		ratio = 1
	}
	return int64(float64(raw) * ratio)
}

// Decide picks the attachment mode for req.Path.
func (e *Engine) Decide(ctx context.Context, req Request) (*Decision, error) {
	limits := req.Limits
	files, err := Collect(req.Path, limits.AllowedExtensions)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoMatchingFiles, req.Path)
	}

	cloud := e.availability(ctx)

	d := &Decision{Files: files}
	if len(files) <= limits.FileCountThreshold {
		d.Mode = ModeDirect
		d.TotalSize = TotalSize(files)
	} else {
		if est := Estimate(files, limits); est > limits.MaxSize && !cloud() {
			return nil, fmt.Errorf("%w: estimated %s exceeds %s", ErrTooLargeNoCloud, formatSize(est), formatSize(limits.MaxSize))
		}
		dest := filepath.Join(e.archiveDir, archiveName(req.Label, e.now()))
		size, err := compress(dest, compressRoot(req.Path), files)
		if err != nil {
			return nil, err
		}
		d.Mode = ModeZip
		d.ArchivePath = dest
		d.TotalSize = size
	}

	if d.TotalSize <= limits.CloudThreshold {
		return d, nil
	}

	if !cloud() {
		if d.TotalSize <= limits.SafeSize {
			return d, nil
		}
		e.discard(d)
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrTooLargeNoCloud, formatSize(d.TotalSize), formatSize(limits.SafeSize))
	}

	links, err := e.upload(ctx, d, req)
	if err != nil {
		e.log.Warn("cloud upload failed",
			zap.String("path", req.Path),
			zap.Int64("size", d.TotalSize),
			zap.Error(err),
		)
		if d.TotalSize <= limits.SafeSize {
			return d, nil
		}
		e.discard(d)
		return nil, fmt.Errorf("%w: %s exceeds %s: %v", ErrTooLargeCloudFailed, formatSize(d.TotalSize), formatSize(limits.SafeSize), err)
	}

	d.Mode = ModeCloudLink
	d.Links = links
	d.LinkBlock = linkBlock(links)
	return d, nil
}

// availability memoises the uploader health check for a single decision.
func (e *Engine) availability(ctx context.Context) func() bool {
	checked, available := false, false
	return func() bool {
		if checked {
			return available
		}
		checked = true
		if e.uploader == nil {
			return false
		}
		ok, err := e.uploader.IsAvailable(ctx)
		if err != nil {
			e.log.Warn("cloud storage unavailable", zap.Error(err))
			return false
		}
		available = ok
		return available
	}
}

func (e *Engine) upload(ctx context.Context, d *Decision, req Request) ([]Link, error) {
	targets := d.Local()
	links := make([]Link, 0, len(targets))
	for _, f := range targets {
		url, err := e.uploader.UploadAndLink(ctx, f.Path, req.ShareType, req.Recipient)
		if err != nil {
			return nil, err
		}
		links = append(links, Link{Name: f.Name, URL: url})
	}
	return links, nil
}

// discard removes the archive of a rejected decision.
func (e *Engine) discard(d *Decision) {
	if err := d.Cleanup(); err != nil {
		e.log.Warn("archive cleanup failed", zap.String("archive", d.ArchivePath), zap.Error(err))
	}
}

func compressRoot(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

func linkBlock(links []Link) string {
	var b strings.Builder
	b.WriteString("<hr><p>The attachments for this message are too large for email and can be downloaded here:</p><ul>")
	for _, l := range links {
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, html.EscapeString(l.URL), html.EscapeString(l.Name))
	}
	b.WriteString("</ul>")
	return b.String()
}

func formatSize(n int64) string {
	return fmt.Sprintf("%.2fMB", float64(n)/megabyte)
}
