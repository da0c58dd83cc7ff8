package storage

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNameLength = 80

// ObjectKey builds a collision-free key of the form YYYY/MM/DD/<uuid>-<name>
func ObjectKey(now time.Time, name string) string {
	return path.Join(now.UTC().Format("2006/01/02"), uuid.NewString()+"-"+SanitizeName(name))
}

// SanitizeName reduces a client file name to a safe base name
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if len(out) > maxNameLength {
		out = out[len(out)-maxNameLength:]
	}
	if out == "" {
		return "document"
	}
	return out
}
