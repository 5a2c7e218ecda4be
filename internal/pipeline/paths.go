package pipeline

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jaa/course-relay/internal/engine"
)

var illegalNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeName replaces characters that are not allowed in file names.
func SanitizeName(name string) string {
	cleaned := strings.TrimSpace(illegalNameChars.ReplaceAllString(name, "_"))
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "untitled"
	}
	return cleaned
}

type Layout struct {
	Root string
}

func (l Layout) SessionDir(userKey string) string {
	return filepath.Join(l.Root, SanitizeName(userKey))
}

// ItemPath is <root>/<user>/<chapter>/<content type>/<title>.<ext>.
func (l Layout) ItemPath(userKey, chapter, contentType, title string, kind engine.ContentKind) string {
	return filepath.Join(
		l.SessionDir(userKey),
		SanitizeName(chapter),
		SanitizeName(contentType),
		SanitizeName(title)+kind.Extension(),
	)
}
