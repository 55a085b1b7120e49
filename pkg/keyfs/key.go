package keyfs

import (
	"strings"

	"github.com/oneconcern/relstore/pkg/keyfs/status"
)

// Key identifies a record: the name of its pattern and its relative path
type Key struct {
	Name    string `json:"name"`
	Relpath string `json:"relpath"`
}

func (k Key) String() string {
	return k.Name + ":" + k.Relpath
}

// IsZero tells if the key is unset
func (k Key) IsZero() bool {
	return k == Key{}
}

// Pattern is a key template with named {param} path segments
type Pattern struct {
	name     string
	segments []string
}

// Registered key patterns
var (
	// StageFile holds release files addressed by their checksum
	StageFile = NewPattern("STAGEFILE", "{user}/{index}/+f/{hashdir_a}/{hashdir_b}/{filename}")

	// MirrorFile holds release files mirrored without a checksum, addressed by their origin path
	MirrorFile = NewPattern("MIRRORFILE", "{user}/{index}/+e/{dirname}/{basename}")

	patterns = []Pattern{StageFile, MirrorFile}
)

// NewPattern builds a key pattern from a template
func NewPattern(name, template string) Pattern {
	return Pattern{
		name:     name,
		segments: strings.Split(template, "/"),
	}
}

// Name of the pattern
func (p Pattern) Name() string {
	return p.name
}

func (p Pattern) String() string {
	return strings.Join(p.segments, "/")
}

// Key builds a key from the values of all pattern parameters
func (p Pattern) Key(params map[string]string) (Key, error) {
	parts := make([]string, len(p.segments))
	for i, segment := range p.segments {
		param, isParam := paramName(segment)
		if !isParam {
			parts[i] = segment
			continue
		}
		value, ok := params[param]
		if !ok || value == "" {
			return Key{}, status.ErrUnknownKey.Wrapf("%s: missing parameter %q", p.name, param)
		}
		if strings.Contains(value, "/") {
			return Key{}, status.ErrUnknownKey.Wrapf("%s: parameter %q may not contain a slash: %q", p.name, param, value)
		}
		parts[i] = value
	}
	return Key{Name: p.name, Relpath: strings.Join(parts, "/")}, nil
}

// Match a relative path against the pattern, returning the parameter values
func (p Pattern) Match(relpath string) (map[string]string, bool) {
	parts := strings.Split(relpath, "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}
	params := make(map[string]string, len(parts))
	for i, segment := range p.segments {
		if parts[i] == "" {
			return nil, false
		}
		if param, isParam := paramName(segment); isParam {
			params[param] = parts[i]
			continue
		}
		if parts[i] != segment {
			return nil, false
		}
	}
	return params, true
}

// MatchKey finds the key pattern which a relative path fits
func MatchKey(relpath string) (Key, error) {
	for _, p := range patterns {
		if _, ok := p.Match(relpath); ok {
			return Key{Name: p.name, Relpath: relpath}, nil
		}
	}
	return Key{}, status.ErrUnknownKey.Wrapf("%q", relpath)
}

func paramName(segment string) (string, bool) {
	if len(segment) > 2 && strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
		return segment[1 : len(segment)-1], true
	}
	return "", false
}
