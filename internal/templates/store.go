// Package templates stores and renders the HTML bodies of outgoing emails.
package templates

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("template not found")
	ErrInvalidID = errors.New("invalid template id")
)

//go:embed default.html
var embeddedDefault string

type Template struct {
	ID   string
	Body string
}

type Store interface {
	GetByID(ctx context.Context, id string) (Template, error)
}

// DirStore serves templates from <dir>/<id>.html.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) GetByID(ctx context.Context, id string) (Template, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return Template{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	body, err := os.ReadFile(filepath.Join(s.dir, id+".html"))
	if errors.Is(err, fs.ErrNotExist) {
		return Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Template{}, fmt.Errorf("read template %s: %w", id, err)
	}

	return Template{ID: id, Body: string(body)}, nil
}

// Resolver picks the template for a run. A failed or empty lookup falls back
// to the default template file, and a missing default file to the built-in
// body.
type Resolver struct {
	store       Store
	defaultPath string
	log         *zap.Logger
}

func NewResolver(store Store, defaultPath string, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, defaultPath: defaultPath, log: logger.Named("templates")}
}

func (r *Resolver) Resolve(ctx context.Context, id string) Template {
	if id == "" || r.store == nil {
		return r.Default()
	}

	t, err := r.store.GetByID(ctx, id)
	if err != nil {
		r.log.Warn("template lookup failed, using default",
			zap.String("template_id", id),
			zap.Error(err),
		)
		return r.Default()
	}
	if strings.TrimSpace(t.Body) == "" {
		r.log.Warn("template is empty, using default", zap.String("template_id", id))
		return r.Default()
	}
	return t
}

func (r *Resolver) Default() Template {
	if r.defaultPath != "" {
		body, err := os.ReadFile(r.defaultPath)
		if err == nil && strings.TrimSpace(string(body)) != "" {
			return Template{ID: "default", Body: string(body)}
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("default template unreadable", zap.String("path", r.defaultPath), zap.Error(err))
		}
	}
	return Template{ID: "builtin", Body: embeddedDefault}
}

// RenderBody renders t with data. When the result is blank the default
// template is rendered instead.
func (r *Resolver) RenderBody(t Template, data Data) (string, error) {
	out, err := Render(t.Body, data)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", t.ID, err)
	}
	if strings.TrimSpace(out) != "" {
		return out, nil
	}

	def := r.Default()
	if def.ID == t.ID && def.Body == t.Body {
		return out, nil
	}
	r.log.Warn("rendered body is empty, using default", zap.String("template_id", t.ID))
	out, err = Render(def.Body, data)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", def.ID, err)
	}
	return out, nil
}
