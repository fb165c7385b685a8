package mailtemplates

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"strings"
	"sync"
	texttemplate "text/template"

	"github.com/vocdoni/saas-billing/notifications"
)

//go:embed templates/*.html
var templatesFS embed.FS

var (
	loadOnce  sync.Once
	loadErr   error
	available map[TemplateFile]*htmltemplate.Template
)

// TemplateFile identifies an email template by its file name without the
// extension.
type TemplateFile string

// MailTemplate is an email template: the HTML file to render the body with,
// and a placeholder notification holding the subject and plain body
// templates.
type MailTemplate struct {
	File        TemplateFile
	Placeholder notifications.Notification
}

// Load parses the embedded HTML templates. It is safe to call it many times,
// templates are only parsed once.
func Load() error {
	loadOnce.Do(func() {
		available = make(map[TemplateFile]*htmltemplate.Template)
		loadErr = fs.WalkDir(templatesFS, "templates", func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(p, ".html") {
				return err
			}
			tmpl, err := htmltemplate.ParseFS(templatesFS, p)
			if err != nil {
				return fmt.Errorf("could not parse template %s: %w", p, err)
			}
			available[TemplateFile(strings.TrimSuffix(path.Base(p), ".html"))] = tmpl
			return nil
		})
	})
	return loadErr
}

// Available returns the names of the loaded templates.
func Available() []TemplateFile {
	files := make([]TemplateFile, 0, len(available))
	for f := range available {
		files = append(files, f)
	}
	return files
}

// ExecTemplate renders the subject, the plain body and the HTML body of the
// template with data.
func (mt MailTemplate) ExecTemplate(data any) (*notifications.Notification, error) {
	if err := Load(); err != nil {
		return nil, err
	}
	tmpl, ok := available[mt.File]
	if !ok {
		return nil, fmt.Errorf("template %s not found", mt.File)
	}
	body := new(bytes.Buffer)
	if err := tmpl.Execute(body, data); err != nil {
		return nil, err
	}
	subject, err := execText(mt.Placeholder.Subject, data)
	if err != nil {
		return nil, err
	}
	plain, err := execText(mt.Placeholder.PlainBody, data)
	if err != nil {
		return nil, err
	}
	return &notifications.Notification{
		Subject:   subject,
		Body:      body.String(),
		PlainBody: plain,
	}, nil
}

func execText(text string, data any) (string, error) {
	if text == "" {
		return "", nil
	}
	tmpl, err := texttemplate.New("plain").Parse(text)
	if err != nil {
		return "", err
	}
	buf := new(bytes.Buffer)
	if err := tmpl.Execute(buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
