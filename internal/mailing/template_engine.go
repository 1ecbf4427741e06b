// Package mailing renders CRM email templates with the Liquid template
// language and provides the template catalog they are loaded from.
package mailing

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/learner-crm/internal/pkg/logger"
	"github.com/ignite/learner-crm/internal/service/sending"
)

var log = logger.Component("mailing")

// ErrTemplateNotFound is returned when a template id is not in the catalog.
var ErrTemplateNotFound = sending.ErrTemplateNotFound

// TemplateService handles Liquid template rendering with caching.
// It implements sending.Renderer.
type TemplateService struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template

	mu        sync.RWMutex
	templates Catalog
}

var _ sending.Renderer = (*TemplateService)(nil)

// NewTemplateService creates a template service serving the given catalog.
func NewTemplateService(c Catalog) *TemplateService {
	ts := &TemplateService{
		engine:    liquid.NewEngine(),
		templates: c,
	}
	ts.registerCustomFilters()
	return ts
}

// Load replaces the catalog once every template in c parses. On error the
// current catalog stays in place. Parsed templates stay cached by source
// text, so unchanged templates are not parsed again.
func (ts *TemplateService) Load(c Catalog) error {
	if err := ts.validate(c); err != nil {
		return err
	}
	ts.mu.Lock()
	ts.templates = c
	ts.mu.Unlock()
	log.Info("template catalog reloaded", "templates", len(c))
	return nil
}

// Has reports whether the catalog holds templateID.
func (ts *TemplateService) Has(templateID string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.templates[templateID]
	return ok
}

// registerCustomFilters adds domain-specific Liquid filters
func (ts *TemplateService) registerCustomFilters() {
	// {{ first_name | default: "there" }}
	ts.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ quest_title | truncate: 40 }}
	// Lengths count characters, not bytes.
	ts.engine.RegisterFilter("truncate", func(s string, length int) string {
		runes := []rune(s)
		if len(runes) <= length {
			return s
		}
		if length <= 3 {
			return string(runes[:max(length, 0)])
		}
		return string(runes[:length-3]) + "..."
	})

	// {{ email | urlencode }}
	ts.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	// {{ total_xp | number_with_delimiter }} -> 12,500
	ts.engine.RegisterFilter("number_with_delimiter", func(value interface{}) string {
		var n int64
		switch v := value.(type) {
		case int:
			n = int64(v)
		case int64:
			n = v
		case float64:
			n = int64(v)
		case string:
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return v
			}
			n = parsed
		default:
			return fmt.Sprintf("%v", value)
		}
		return withDelimiter(n)
	})

	// {{ streak_days | pluralize: "day", "days" }}
	ts.engine.RegisterFilter("pluralize", func(value interface{}, singular, plural string) string {
		if fmt.Sprintf("%v", value) == "1" {
			return singular
		}
		return plural
	})

	// {{ email | mask_email }}
	ts.engine.RegisterFilter("mask_email", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) != 2 {
			return email
		}
		local, domain := parts[0], parts[1]
		if len(local) <= 2 {
			return local + "***@" + domain
		}
		return local[:2] + "***@" + domain
	})

	// {{ display_name | present }}
	ts.engine.RegisterFilter("present", func(value interface{}) bool {
		if value == nil {
			return false
		}
		strVal := fmt.Sprintf("%v", value)
		return strVal != "" && strVal != "<nil>" && strVal != "0" && strVal != "false"
	})
}

func withDelimiter(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// Parse compiles a template string and returns any syntax errors.
func (ts *TemplateService) Parse(src string) error {
	_, err := ts.parse(src)
	return err
}

func (ts *TemplateService) parse(src string) (*liquid.Template, error) {
	if cached, ok := ts.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := ts.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	ts.cache.Store(src, tpl)
	return tpl, nil
}

// RenderString renders one Liquid source with vars.
func (ts *TemplateService) RenderString(src string, vars map[string]any) (string, error) {
	if src == "" {
		return "", nil
	}
	tpl, err := ts.parse(src)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return out, nil
}

// Render renders the subject, HTML and text parts of a catalog template.
// A non-empty subjectOverride is rendered in place of the template subject.
// Templates without a text part get one derived from the HTML.
func (ts *TemplateService) Render(ctx context.Context, templateID, subjectOverride string, vars map[string]any) (*sending.Rendered, error) {
	ts.mu.RLock()
	t, ok := ts.templates[templateID]
	ts.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	subject := t.Subject
	if subjectOverride != "" {
		subject = subjectOverride
	}

	var (
		out sending.Rendered
		err error
	)
	if out.Subject, err = ts.RenderString(subject, vars); err != nil {
		return nil, fmt.Errorf("template %s subject: %w", templateID, err)
	}
	if out.HTMLBody, err = ts.RenderString(t.HTML, vars); err != nil {
		return nil, fmt.Errorf("template %s html: %w", templateID, err)
	}
	if out.TextBody, err = ts.RenderString(t.Text, vars); err != nil {
		return nil, fmt.Errorf("template %s text: %w", templateID, err)
	}
	if out.TextBody == "" && out.HTMLBody != "" {
		out.TextBody = htmlToText(out.HTMLBody)
	}
	out.Subject = strings.TrimSpace(out.Subject)

	log.Debug("template rendered", "template_id", templateID)
	return &out, nil
}

var (
	blockTags  = regexp.MustCompile(`(?i)<(br|/p|/div|/h[1-6]|/li|/tr)\s*/?>`)
	anyTag     = regexp.MustCompile(`<[^>]*>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

func htmlToText(s string) string {
	s = blockTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&nbsp;", " ", "&#39;", "'", "&quot;", `"`).Replace(s)
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
