package http

import (
	"html/template"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/secrets/internal/auth"
)

// pages renders the optional HTML templates. Without them every page is
// served as JSON, which is what API clients and tests get anyway.
type pages struct {
	tmpl   *template.Template
	logger *zap.Logger
}

func loadPages(templatesPath string, logger *zap.Logger) *pages {
	p := &pages{logger: logger}
	if templatesPath == "" {
		return p
	}

	pattern := filepath.Join(templatesPath, "*.html")
	tmpl, err := template.New("").Funcs(auth.TemplateFuncs()).ParseGlob(pattern)
	if err != nil {
		logger.Debug("page templates not loaded", zap.String("pattern", pattern), zap.Error(err))
		return p
	}
	p.tmpl = tmpl
	return p
}

func (p *pages) render(c *gin.Context, status int, name string, data gin.H) {
	if p.tmpl == nil || p.tmpl.Lookup(name) == nil || wantsJSON(c) {
		c.JSON(status, data)
		return
	}

	view := gin.H{"CSRFToken": auth.GetCSRFToken(c), "LoggedIn": auth.IsAuthenticated(c)}
	for k, v := range data {
		view[k] = v
	}

	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := p.tmpl.ExecuteTemplate(c.Writer, name, view); err != nil {
		p.logger.Error("template error", zap.String("template", name), zap.Error(err))
	}
}

func wantsJSON(c *gin.Context) bool {
	return c.ContentType() == gin.MIMEJSON || c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}
