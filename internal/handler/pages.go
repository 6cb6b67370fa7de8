// Package handler contains the HTTP handlers. Handlers parse requests, call
// a service and write the response; business rules live in the service package.
package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/sakif/chatrelay/internal/auth"
	"github.com/sakif/chatrelay/internal/model"
)

// pageNames are the templates that fill the "content" block of base.html.
var pageNames = []string{"index", "register", "login", "chat"}

// formValues echoes submitted fields back into a re-rendered form.
// The password is never echoed.
type formValues struct {
	Name  string
	Email string
}

// pageData is the data every page template receives.
type pageData struct {
	Title         string
	Session       *model.Session
	Flash         string
	Error         string
	Form          formValues
	GitHubEnabled bool
}

// Pages renders HTML pages from parsed templates.
type Pages struct {
	templates map[string]*template.Template
	logger    *slog.Logger
}

// NewPages parses base.html together with each page template. Each page
// gets its own set because they all define "content".
func NewPages(templates fs.FS, logger *slog.Logger) (*Pages, error) {
	p := &Pages{templates: make(map[string]*template.Template, len(pageNames)), logger: logger}
	for _, name := range pageNames {
		tmpl, err := template.ParseFS(templates, "base.html", name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

// Render executes page into a buffer first so a template error still
// produces a clean 500 instead of half a page.
func (p *Pages) Render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	tmpl, ok := p.templates[page]
	if !ok {
		p.logger.Error("unknown page template", slog.String("page", page))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if data.Session == nil {
		data.Session, _ = auth.SessionFromContext(r.Context())
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		p.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// HandleIndex serves the landing page.
//
// HTTP: GET /
func (p *Pages) HandleIndex(w http.ResponseWriter, r *http.Request) {
	p.Render(w, r, http.StatusOK, "index", pageData{Title: "chatrelay"})
}
