package server

import (
	"strconv"
	"strings"
)

// CacheControlDirective holds the request Cache-Control directives the
// gateway honors when serving cached queries.
type CacheControlDirective struct {
	MaxAge  *int // max-age directive value in seconds
	NoCache bool // no-cache directive present
	NoStore bool // no-store directive present
}

// ParseCacheControl parses a Cache-Control header string.
//
// Format: Cache-Control: directive1, directive2=value, directive3
//
// Supported directives:
//   - max-age=<seconds>
//   - no-cache
//   - no-store
//
// Unknown directives are silently ignored.
func ParseCacheControl(header string) CacheControlDirective {
	directive := CacheControlDirective{}
	if header == "" {
		return directive
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, ok := strings.Cut(part, "="); ok {
			if strings.TrimSpace(strings.ToLower(key)) == "max-age" {
				value = strings.Trim(strings.TrimSpace(value), `"`)
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					directive.MaxAge = &seconds
				}
			}
			continue
		}

		switch strings.ToLower(part) {
		case "no-cache":
			directive.NoCache = true
		case "no-store":
			directive.NoStore = true
		}
	}
	return directive
}

// Bypass reports whether the caller refuses a cached answer. no-cache,
// no-store and max-age=0 all force a backend load.
func (d CacheControlDirective) Bypass() bool {
	if d.NoCache || d.NoStore {
		return true
	}
	return d.MaxAge != nil && *d.MaxAge == 0
}
