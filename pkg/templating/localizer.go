package templating

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"sort"

	"golang.org/x/text/language"

	"github.com/KobraKid/bestiary-sub000/pkg/entry"
	"github.com/KobraKid/bestiary-sub000/pkg/store"
)

// UnknownStringMarker is a visible placeholder that can be configured as
// TemplateConfig.MissingResourceText.
const UnknownStringMarker = "<ERROR: UNKNOWN STRING>"

// Localizer resolves resource identifiers to display strings.
type Localizer struct {
	resources store.ResourceStore
	missing   string
	logger    *slog.Logger
}

// NewLocalizer returns a Localizer that substitutes missing for absent resources.
func NewLocalizer(resources store.ResourceStore, missing string, logger *slog.Logger) *Localizer {
	return &Localizer{resources: resources, missing: missing, logger: logger}
}

// Localize returns the string for resource id in lang. Literal resources
// ignore lang. Mapped resources fall back to the closest language, then to
// the lexicographically first language present. It never fails.
func (l *Localizer) Localize(ctx context.Context, pkg, id, lang string) string {
	res, err := l.resources.FindResource(ctx, pkg, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.logger.WarnContext(ctx, "Unknown resource", "package", pkg, "resource", id)
		} else {
			l.logger.ErrorContext(ctx, "Failed to load resource", "package", pkg, "resource", id, "error", err)
		}
		return l.missing
	}
	text, ok := pickLanguage(res.Value, lang)
	if !ok {
		l.logger.WarnContext(ctx, "Resource has no usable value", "package", pkg, "resource", id)
		return l.missing
	}
	return text
}

// LocalizeHTML is Localize escaped for markup.
func (l *Localizer) LocalizeHTML(ctx context.Context, pkg, id, lang string) string {
	return html.EscapeString(l.Localize(ctx, pkg, id, lang))
}

func pickLanguage(v entry.Value, lang string) (string, bool) {
	if s, ok := v.Str(); ok {
		return s, true
	}
	fields := v.Fields()
	if len(fields) == 0 {
		return "", false
	}
	if f, ok := fields[lang]; ok {
		return f.String(), true
	}

	codes := make([]string, 0, len(fields))
	for code := range fields {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	if want, err := language.Parse(lang); err == nil {
		var (
			tags   []language.Tag
			tagged []string
		)
		for _, code := range codes {
			tag, err := language.Parse(code)
			if err != nil {
				continue
			}
			tags = append(tags, tag)
			tagged = append(tagged, code)
		}
		if len(tags) > 0 {
			_, i, conf := language.NewMatcher(tags).Match(want)
			if conf >= language.High {
				return fields[tagged[i]].String(), true
			}
		}
	}
	return fields[codes[0]].String(), true
}
