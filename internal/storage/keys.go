package storage

import (
	"fmt"
	"path"
	"strings"
)

// UilmFileKey returns the object key of a generated file:
// uilm/<tenant>/<module>/<language>/v<version><ext>
func UilmFileKey(tenantID, moduleID, language string, version int, ext string) string {
	return path.Join("uilm", segment(tenantID), segment(moduleID), segment(language),
		fmt.Sprintf("v%d%s", version, ext))
}

// ExportKey returns the object key of an export package:
// exports/<tenant>/<fileID><ext>
func ExportKey(tenantID, fileID, ext string) string {
	return path.Join("exports", segment(tenantID), segment(fileID)+ext)
}

// segment keeps caller-supplied ids from escaping their directory
func segment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
