package filestore

import (
	"mime"
	"path"
	"strings"
)

// types of release file archives, by suffix
var archiveTypes = []struct {
	suffix      string
	contentType string
}{
	{".tar.gz", "application/x-tar"},
	{".tar.bz2", "application/x-tar"},
	{".tar.xz", "application/x-tar"},
	{".tgz", "application/x-tar"},
	{".zip", "application/zip"},
}

func guessType(basename string) string {
	lower := strings.ToLower(basename)
	for _, archive := range archiveTypes {
		if strings.HasSuffix(lower, archive.suffix) {
			return archive.contentType
		}
	}
	ext := path.Ext(lower)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension(ext)
}
