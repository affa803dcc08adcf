// Package render produces statement email content: Liquid templates for
// the subject and message, plus the HTML/text composition that wraps them.
package render

import (
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
)

// Default templates used when the caller supplies no subject or body.
const (
	DefaultSubjectTemplate = "Statement for {{ customer_name }}"
	DefaultBodyText        = "Please find your latest statement below.\n\nRegards,\nAccounts"
)

// Mode determines how rendering handles errors.
type Mode int

const (
	// ModeLax falls back to the raw template string on errors (production
	// sends must never fail on a bad template).
	ModeLax Mode = iota
	// ModeStrict surfaces the error (preview/validation paths).
	ModeStrict
)

// Engine renders Liquid templates with a parse cache keyed by template
// name. Safe for concurrent use.
type Engine struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
	log    *logger.Logger
}

// NewEngine creates a template engine with the statement filters
// registered.
func NewEngine() *Engine {
	e := &Engine{
		engine: liquid.NewEngine(),
		log:    logger.New("render"),
	}
	e.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})
	return e
}

// Render renders templateStr with ctx. A non-empty cacheKey caches the
// parsed template under that name.
func (e *Engine) Render(cacheKey, templateStr string, ctx map[string]interface{}, mode Mode) (string, error) {
	if cacheKey != "" {
		if cached, ok := e.cache.Load(cacheKey); ok {
			return e.renderTemplate(cached.(*liquid.Template), templateStr, ctx, mode)
		}
	}

	tpl, err := e.engine.ParseString(templateStr)
	if err != nil {
		if mode == ModeStrict {
			return "", fmt.Errorf("parsing template: %w", err)
		}
		e.log.Warn("template parse failed, using raw text", "key", cacheKey, "error", err.Error())
		return templateStr, nil
	}
	if cacheKey != "" {
		e.cache.Store(cacheKey, tpl)
	}
	return e.renderTemplate(tpl, templateStr, ctx, mode)
}

func (e *Engine) renderTemplate(tpl *liquid.Template, raw string, ctx map[string]interface{}, mode Mode) (string, error) {
	out, err := tpl.RenderString(ctx)
	if err != nil {
		if mode == ModeStrict {
			return "", fmt.Errorf("rendering template: %w", err)
		}
		e.log.Warn("template render failed, using raw text", "error", err.Error())
		return raw, nil
	}
	return out, nil
}

// ClearCache drops all cached parsed templates.
func (e *Engine) ClearCache() {
	e.cache.Range(func(key, _ interface{}) bool {
		e.cache.Delete(key)
		return true
	})
}

// StatementSubject renders the default subject for a customer.
func (e *Engine) StatementSubject(customerName string) string {
	out, _ := e.Render("statement_subject", DefaultSubjectTemplate,
		map[string]interface{}{"customer_name": customerName}, ModeLax)
	return out
}

// StatementBody returns the default statement message text.
func (e *Engine) StatementBody() string {
	return DefaultBodyText
}

// Statement describes one statement email to compose.
type Statement struct {
	CustomerName string
	Message      string // plain text; escaped and <br>-folded into the HTML
	DateFrom     string
	DateTo       string
	StatementURL string
}

// ComposeStatement builds the HTML body and its text mirror for a
// statement email.
func ComposeStatement(s Statement) (htmlBody, textBody string) {
	msg := strings.ReplaceAll(html.EscapeString(s.Message), "\n", "<br>")

	var b strings.Builder
	b.WriteString("<div style=\"font-family: Arial, sans-serif; font-size: 14px; color: #333;\">")
	b.WriteString("<p>" + msg + "</p>")
	if s.DateFrom != "" && s.DateTo != "" {
		b.WriteString(fmt.Sprintf("<p>Period: %s &ndash; %s</p>",
			html.EscapeString(s.DateFrom), html.EscapeString(s.DateTo)))
	}
	if s.StatementURL != "" {
		b.WriteString(fmt.Sprintf("<p><a href=\"%s\">View your statement</a></p>",
			html.EscapeString(s.StatementURL)))
	}
	b.WriteString(fmt.Sprintf("<p style=\"color:#888;font-size:12px;\">Sent for <b>%s</b></p>",
		html.EscapeString(s.CustomerName)))
	b.WriteString("</div>")

	var tb strings.Builder
	tb.WriteString(s.Message)
	if s.DateFrom != "" && s.DateTo != "" {
		tb.WriteString(fmt.Sprintf("\n\nPeriod: %s - %s", s.DateFrom, s.DateTo))
	}
	if s.StatementURL != "" {
		tb.WriteString("\n\nView your statement: " + s.StatementURL)
	}
	tb.WriteString("\n\nSent for " + s.CustomerName)

	return b.String(), tb.String()
}

var lineBreaks = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n")

// HTMLToText is the crude text fallback for chasing emails that arrive as
// HTML only: line-break tags become newlines, everything else is
// stripped.
func HTMLToText(s string) string {
	s = lineBreaks.Replace(s)
	s = strings.ReplaceAll(s, "</p>", "\n")
	s = strings.ReplaceAll(s, "</div>", "\n")
	s = strings.ReplaceAll(s, "</li>", "\n")
	s = stripTags(s)
	s = html.UnescapeString(s)

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
