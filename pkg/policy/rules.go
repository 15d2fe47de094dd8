package policy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Class is the handling class of a request.
type Class string

const (
	// StaticAsset requests are served cache-first from the static cache.
	StaticAsset Class = "static-asset"
	// DynamicPage requests are served network-first, falling back to caches.
	DynamicPage Class = "dynamic-page"
	// Excluded requests are passed to the network untouched and never cached.
	Excluded Class = "excluded"
)

// MatchKind is how a rule's Match is compared to the request path.
type MatchKind string

const (
	MatchPrefix   MatchKind = "prefix"
	MatchGlob     MatchKind = "glob"
	MatchContains MatchKind = "contains"
)

type Rules []Rule

type Rule struct {
	Match string    `koanf:"match" yaml:"match"`
	Kind  MatchKind `koanf:"kind" yaml:"kind"`
	Class Class     `koanf:"class" yaml:"class"`
}

// DefaultRules returns the rules for the site:
// the admin, API and upload areas and the editor endpoints bypass the cache,
// everything under /static/ is a static asset.
func DefaultRules() Rules {
	return Rules{
		{Match: "/admin/", Kind: MatchPrefix, Class: Excluded},
		{Match: "/api/", Kind: MatchPrefix, Class: Excluded},
		{Match: "ckeditor", Kind: MatchContains, Class: Excluded},
		{Match: "/upload/", Kind: MatchPrefix, Class: Excluded},
		{Match: "/static/", Kind: MatchPrefix, Class: StaticAsset},
	}
}

// Classify returns the class of a request.
// Requests that are not GET are always excluded.
// The first matching rule wins; a request matching no rule is a dynamic page.
func (r Rules) Classify(method, path string) Class {
	if method != http.MethodGet {
		return Excluded
	}
	if rule := r.find(path); rule != nil {
		return rule.Class
	}
	return DynamicPage
}

func (r Rules) find(path string) *Rule {
	for i := range r {
		if r[i].matches(path) {
			return &r[i]
		}
	}
	return nil
}

func (rule Rule) matches(path string) bool {
	switch rule.Kind {
	case MatchPrefix, "":
		return strings.HasPrefix(path, rule.Match)
	case MatchContains:
		return strings.Contains(path, rule.Match)
	case MatchGlob:
		// Validate rejects bad patterns, which never match here.
		ok, _ := doublestar.Match(rule.Match, path)
		return ok
	}
	return false
}

// Validate checks every rule, so that a bad rule is reported at startup
// instead of silently never matching.
func (r Rules) Validate() error {
	for i, rule := range r {
		if rule.Match == "" {
			return fmt.Errorf("rules[%d]: empty match", i)
		}
		switch rule.Kind {
		case MatchPrefix, MatchContains, "":
		case MatchGlob:
			if !doublestar.ValidatePattern(rule.Match) {
				return fmt.Errorf("rules[%d]: invalid glob %q", i, rule.Match)
			}
		default:
			return fmt.Errorf("rules[%d]: unknown kind %q", i, rule.Kind)
		}
		switch rule.Class {
		case StaticAsset, DynamicPage, Excluded:
		default:
			return fmt.Errorf("rules[%d]: unknown class %q", i, rule.Class)
		}
	}
	return nil
}
