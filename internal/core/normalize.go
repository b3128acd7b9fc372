package core

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"genflow/internal/model"
)

// Matches URLs served from a raw IPv4 address, like the ones workers on the
// local network report (http://192.168.1.5:8085/files/out.mp4).
var localAddrURL = regexp.MustCompile(`^https?://\d{1,3}(?:\.\d{1,3}){3}(?::\d+)?/`)

var mediaExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".webp": {}, ".gif": {}, ".bmp": {},
	".mp4": {}, ".mov": {}, ".webm": {}, ".mkv": {}, ".avi": {},
}

// NormalizeLocation strips a transient local network address from a file URL
// and returns the relative path. Any other value is returned unchanged.
func NormalizeLocation(value string) string {
	if !localAddrURL.MatchString(value) {
		return value
	}
	u, err := url.Parse(value)
	if err != nil {
		return value
	}
	p := strings.TrimPrefix(u.Path, "/")
	if p == "" || !looksLikeFile(p) {
		return value
	}
	return p
}

func looksLikeFile(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if _, ok := mediaExtensions[ext]; ok {
		return true
	}
	return ext != "" || strings.Contains(p, "/")
}

// NormalizeParams returns a deep copy of params with every location string normalized.
func NormalizeParams(params model.Params) model.Params {
	if params == nil {
		return nil
	}
	out := make(model.Params, len(params))
	for k, v := range params {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return NormalizeLocation(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeValue(vv)
		}
		return out
	case model.Params:
		return NormalizeParams(t)
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, vv := range t {
			out[i] = NormalizeLocation(vv)
		}
		return out
	default:
		return v
	}
}
