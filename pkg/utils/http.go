// Package utils provides common utility functions.
package utils

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// BrowserHeaders builds the request headers sent to bureau sites. Custom
// headers are applied last and override the defaults.
func BrowserHeaders(userAgent, acceptLanguage, referer string, custom map[string]string) http.Header {
	headers := http.Header{}

	headers.Set("User-Agent", userAgent)
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/pdf,image/*;q=0.8,*/*;q=0.7")
	headers.Set("Accept-Language", acceptLanguage)

	if referer != "" {
		headers.Set("Referer", referer)
	}

	for key, value := range custom {
		headers.Set(key, value)
	}

	return headers
}

// IsValidURL reports whether raw is an absolute http(s) URL.
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// BaseName returns the last path segment of a URL, unescaped, or "document"
// when the path is empty.
func BaseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "document"
	}

	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}

	if name == "" || name == "/" || name == "." {
		return "document"
	}

	return name
}

// MediaType strips parameters from a Content-Type value and lower-cases it.
func MediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")

	return strings.ToLower(strings.TrimSpace(mt))
}
