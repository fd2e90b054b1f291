package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// HashKey creates a SHA256 hash of a path or URL string.
// This is useful for creating consistent, safe keys for Redis.
func HashKey(raw string) string {
	h := sha256.New()
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}

// OriginURL builds an absolute URL for a site-relative path. The path is set
// verbatim rather than resolved as a reference, so inputs like "//host/x"
// cannot redirect the request to another host.
func OriginURL(scheme, host, path string) string {
	if scheme == "" {
		scheme = "http"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: path}
	return u.String()
}
