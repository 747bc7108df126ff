// Package vdir reads vdir collections from disk: it classifies directory
// entries, reads the per-collection metadata files, and discovers collections
// under root directories.
//
// See https://vdirsyncer.pimutils.org/en/stable/vdir.html for the layout.
package vdir

import (
	"path/filepath"
	"slices"
	"strings"
)

// Metadata file names recognized inside a collection directory.
const (
	FileColor       = "color"
	FileDisplayName = "displayname"
	FileDescription = "description"
	FileOrder       = "order"
)

var metadataFiles = []string{FileColor, FileDisplayName, FileDescription, FileOrder}

// IsItem reports whether filename is a calendar item: it must have an
// extension, must not be a .tmp file, and must end in .ics.
// Only the base name is inspected.
func IsItem(filename string) bool {
	name := filepath.Base(filename)
	if strings.HasSuffix(name, ".tmp") || !strings.Contains(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".ics")
}

// IsMetadata reports whether filename is exactly one of the metadata files.
func IsMetadata(filename string) bool {
	return slices.Contains(metadataFiles, filepath.Base(filename))
}
