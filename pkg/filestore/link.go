package filestore

import (
	"net/url"
	"path"
	"strings"

	"github.com/oneconcern/relstore/pkg/filestore/status"
	"github.com/oneconcern/relstore/pkg/hashspec"
)

// LinkDescriptor describes a remote release file, as found by crawling an index page
type LinkDescriptor interface {
	// HashSpec carried by the link, if any
	HashSpec() string
	// Basename of the release file
	Basename() string
	// URLNoFragment is the URL to fetch the file from
	URLNoFragment() string
	// EggFragment marker, if any
	EggFragment() string
	// RelPath decomposes the URL into path segments: <scheme>/<host>/<path...>
	RelPath() string
}

const eggPrefix = "egg="

// Link is a remote release file URL, e.g. https://host/pkg-1.0.tar.gz#sha256=<hex digest>
type Link struct {
	u        *url.URL
	hashSpec string
	egg      string
}

var _ LinkDescriptor = &Link{}

// ParseLink parses a release file URL.
//
// A "#<algorithm>=<hex digest>" fragment sets the hash spec, a "#egg=<name>" fragment the egg marker.
// Other fragments are ignored.
func ParseLink(raw string) (*Link, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, status.ErrFormat.Wrapf("link %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, status.ErrFormat.Wrapf("link %q: unsupported scheme", raw)
	}
	if u.Host == "" || u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return nil, status.ErrFormat.Wrapf("link %q: does not point to a file", raw)
	}

	link := &Link{u: u}
	switch fragment := u.Fragment; {
	case strings.HasPrefix(fragment, eggPrefix):
		link.egg = strings.TrimPrefix(fragment, eggPrefix)
	case strings.Contains(fragment, "="):
		if !hashspec.Supported(hashspec.Algorithm(strings.SplitN(fragment, "=", 2)[0])) {
			break
		}
		spec, err := hashspec.Parse(fragment)
		if err != nil {
			return nil, err
		}
		link.hashSpec = spec.String()
	}
	return link, nil
}

// HashSpec from the URL fragment
func (l *Link) HashSpec() string {
	return l.hashSpec
}

// Basename of the file
func (l *Link) Basename() string {
	return path.Base(l.u.Path)
}

// URLNoFragment is the link without its fragment
func (l *Link) URLNoFragment() string {
	u := *l.u
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// EggFragment from the URL fragment
func (l *Link) EggFragment() string {
	return l.egg
}

// RelPath is "<scheme>/<host><path>"
func (l *Link) RelPath() string {
	return l.u.Scheme + "/" + l.u.Host + l.u.EscapedPath()
}

func (l *Link) String() string {
	return l.u.String()
}
