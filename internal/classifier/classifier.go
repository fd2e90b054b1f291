// Package classifier decides whether a request path belongs to the page API
// and, if so, which content path it refers to. It performs no I/O.
package classifier

import (
	"net/http"
	"strings"

	"github.com/user/pagejson-service/internal/config"
	"github.com/user/pagejson-service/internal/domain"
)

// MaxContentPathLength is the longest content path accepted.
const MaxContentPathLength = 2000

// forbiddenChars may never appear in a content path.
const forbiddenChars = `<>:"|?*`

type Kind int

const (
	// NotAPI means the path is outside the API prefix.
	NotAPI Kind = iota
	// Excluded means the content path matched an exclude pattern.
	Excluded
	// Content means the request should be served as page data.
	Content
)

func (k Kind) String() string {
	switch k {
	case NotAPI:
		return "not_api"
	case Excluded:
		return "excluded"
	case Content:
		return "content"
	}
	return "unknown"
}

// Result is the outcome of Classify. ContentPath is set for Excluded and Content.
type Result struct {
	Kind        Kind
	ContentPath string
}

// Classify maps a request path onto a content path under opts.APIPrefix.
// Invalid content paths yield an INVALID_CONFIG error with status 400.
func Classify(requestPath string, opts *config.Options) (Result, error) {
	if !strings.HasPrefix(requestPath, opts.APIPrefix) {
		return Result{Kind: NotAPI}, nil
	}

	contentPath := ContentPath(requestPath, opts.APIPrefix)
	if err := ValidateContentPath(contentPath); err != nil {
		return Result{}, err
	}

	if IsExcluded(contentPath, opts.ExcludePaths) {
		return Result{Kind: Excluded, ContentPath: contentPath}, nil
	}
	return Result{Kind: Content, ContentPath: contentPath}, nil
}

// ContentPath strips prefix from requestPath and makes the remainder absolute.
func ContentPath(requestPath, prefix string) string {
	rest := strings.TrimPrefix(requestPath, prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// ValidateContentPath rejects paths that could not name a page.
func ValidateContentPath(p string) error {
	switch {
	case !strings.HasPrefix(p, "/"):
		return invalidPath("path must start with '/'")
	case len(p) > MaxContentPathLength:
		return invalidPath("path exceeds maximum length")
	case strings.ContainsAny(p, forbiddenChars):
		return invalidPath("path contains invalid characters")
	}
	return nil
}

// IsExcluded reports whether p matches any pattern. A pattern ending in "/*"
// matches every path below it (but not the bare directory); any other pattern
// must match exactly.
func IsExcluded(p string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/*") {
			if strings.HasPrefix(p, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if p == pattern {
			return true
		}
	}
	return false
}

func invalidPath(msg string) error {
	return domain.NewError(domain.KindInvalidConfig, "invalid content path: "+msg, http.StatusBadRequest, nil)
}
