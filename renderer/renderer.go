// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package renderer renders text templates that use ${var} placeholders, the
// format of the command scaffolding templates. Most use cases can use the
// [Renderer] without modification.
//
// The renderer accepts a filesystem ([fs.FS]). In most cases, this will be an
// [embed.FS] compiled into the binary; for development, [os.DirFS] together
// with [WithDebug] reloads templates on every render:
//
//	//go:embed templates/*.tmpl
//	var templatesFS embed.FS
//
// Every file ending in ".tmpl" is a template, named by its path. Placeholders
// are written ${name} or ${name|func}, where func is one of the template
// functions. "$$" renders a literal "$". Referencing a variable that was not
// provided is an error.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// Renderer is responsible for rendering templates. This implementation caches
// templates and uses a pool of buffers.
type Renderer struct {
	// rendererPool is a pool of *bytes.Buffer, used as a rendering buffer to
	// prevent partially written output.
	rendererPool *sync.Pool

	// templates maps template names to their source. templatesLock is a mutex
	// to prevent concurrent modification of the templates field.
	templates     map[string]string
	templatesLock sync.RWMutex

	// fs is the underlying filesystem to read.
	fs fs.FS

	// debug indicates templates should be reloaded on each invocation. Do not
	// enable in production.
	debug bool

	// templateFuncs is the compiled list of template functions.
	templateFuncs FuncMap
}

// Option is an interface for options to creating a renderer.
type Option func(*Renderer) *Renderer

// WithDebug configures debugging on the renderer.
func WithDebug(v bool) Option {
	return func(r *Renderer) *Renderer {
		r.debug = v
		return r
	}
}

// WithTemplateFuncs registers additional template functions. Functions in
// later maps take precedence over earlier ones and over the built-in list; a
// nil function removes the name.
func WithTemplateFuncs(fns ...FuncMap) Option {
	return func(r *Renderer) *Renderer {
		if r.templateFuncs == nil {
			r.templateFuncs = make(FuncMap)
		}
		for _, m := range fns {
			for k, v := range m {
				r.templateFuncs[k] = v
			}
		}
		return r
	}
}

// New creates a new renderer with the given details.
func New(ctx context.Context, fsys fs.FS, opts ...Option) (*Renderer, error) {
	r := &Renderer{
		rendererPool: &sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 1024))
			},
		},
		fs: fsys,
	}

	for _, opt := range opts {
		if opt != nil {
			r = opt(r)
		}
	}

	// Compile template functions.
	fns := builtinFuncs()
	for k, v := range r.templateFuncs {
		if v == nil {
			delete(fns, k)
			continue
		}
		fns[k] = v
	}
	r.templateFuncs = fns

	// Load initial templates
	if err := r.loadTemplates(); err != nil {
		return nil, err
	}

	return r, nil
}

// Names returns the sorted names of the loaded templates.
func (r *Renderer) Names() []string {
	r.templatesLock.RLock()
	defer r.templatesLock.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with vars and writes the result to w.
// Nothing is written when rendering fails.
func (r *Renderer) Render(w io.Writer, name string, vars map[string]string) error {
	if r.debug {
		if err := r.loadTemplates(); err != nil {
			return err
		}
	}

	b, ok := r.rendererPool.Get().(*bytes.Buffer)
	if !ok || b == nil {
		b = bytes.NewBuffer(make([]byte, 0, 1024))
	}
	b.Reset()
	defer r.rendererPool.Put(b)

	if err := r.executeTemplate(b, name, vars); err != nil {
		return err
	}

	if _, err := b.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write rendered template: %w", err)
	}
	return nil
}

// RenderFile renders the named template into the file at dst, replacing
// any existing content.
func (r *Renderer) RenderFile(name, dst string, vars map[string]string) error {
	var b bytes.Buffer
	if err := r.Render(&b, name, vars); err != nil {
		return err
	}

	if err := os.WriteFile(dst, b.Bytes(), 0o644); err != nil { //nolint:gosec // Generated source files are world readable.
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// OutputName returns the file name a template renders to: its base name
// without the ".tmpl" suffix.
func OutputName(name string) string {
	return strings.TrimSuffix(path.Base(name), ".tmpl")
}

// executeTemplate executes a single template with the provided data.
func (r *Renderer) executeTemplate(w io.Writer, name string, vars map[string]string) error {
	r.templatesLock.RLock()
	defer r.templatesLock.RUnlock()

	if r.templates == nil {
		return fmt.Errorf("no templates are defined")
	}

	src, ok := r.templates[name]
	if !ok {
		return fmt.Errorf("template %q is not defined", name)
	}

	out, err := Expand(src, vars, r.templateFuncs)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}

	if _, err := io.WriteString(w, out); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	return nil
}

// loadTemplates loads or reloads all templates.
func (r *Renderer) loadTemplates() error {
	r.templatesLock.Lock()
	defer r.templatesLock.Unlock()

	if r.fs == nil {
		return nil
	}

	templates, err := loadTemplates(r.fs)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	r.templates = templates
	return nil
}

func loadTemplates(fsys fs.FS) (map[string]string, error) {
	templates := make(map[string]string)
	if err := fs.WalkDir(fsys, ".", func(pth string, info fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		if strings.HasSuffix(info.Name(), ".tmpl") {
			b, err := fs.ReadFile(fsys, pth)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", pth, err)
			}
			templates[pth] = string(b)
		}

		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to walk filesystem for templates: %w", err)
	}

	return templates, nil
}
