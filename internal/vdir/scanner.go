package vdir

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	appLog "vdircal/internal/log"
	"vdircal/internal/model"
)

// IsCollection reports whether dir exists, is a directory, and contains at
// least one .ics file or one of the metadata files.
func IsCollection(fsys afero.Fs, dir string) bool {
	info, err := fsys.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}

	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		appLog.Warn("vdir collection check failed", "path", dir, "err", err)
		return false
	}

	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".ics") || IsMetadata(name) {
			return true
		}
	}
	return false
}

// ScanRoot lists the immediate subdirectories of rootPath and returns the
// ones that qualify as collections, ordered with SortCollections. Each entry
// is named after its displayname file, falling back to the directory name.
func ScanRoot(fsys afero.Fs, rootPath string) []model.VdirCollectionConfig {
	collections := make([]model.VdirCollectionConfig, 0)

	if ok, _ := afero.DirExists(fsys, rootPath); !ok {
		appLog.Warn("vdir root directory does not exist", "path", rootPath)
		return collections
	}

	entries, err := afero.ReadDir(fsys, rootPath)
	if err != nil {
		appLog.Error("vdir root scan failed", err, "path", rootPath)
		return collections
	}

	for _, e := range entries {
		entryPath := filepath.Join(rootPath, e.Name())

		// Stat (not the dirent) so symlinked collections are followed.
		info, err := fsys.Stat(entryPath)
		if err != nil {
			appLog.Warn("vdir root entry unreadable", "path", entryPath, "err", err)
			continue
		}
		if !info.IsDir() || !IsCollection(fsys, entryPath) {
			continue
		}

		meta := ReadMetadata(fsys, entryPath)
		name := filepath.Base(entryPath)
		if meta.DisplayName != nil && *meta.DisplayName != "" {
			name = *meta.DisplayName
		}

		collections = append(collections, model.VdirCollectionConfig{
			Name:        name,
			Path:        entryPath,
			Color:       meta.Color,
			DisplayName: meta.DisplayName,
			Description: meta.Description,
			Order:       meta.Order,
			Enabled:     true,
		})
	}

	SortCollections(collections)

	appLog.Debug("vdir root scanned", "path", rootPath, "collections", len(collections))
	return collections
}

// ScanAllRoots concatenates ScanRoot results in root order. Collections are
// not re-sorted across roots.
func ScanAllRoots(fsys afero.Fs, roots []string) []model.VdirCollectionConfig {
	all := make([]model.VdirCollectionConfig, 0)
	for _, root := range roots {
		all = append(all, ScanRoot(fsys, root)...)
	}
	return all
}

// SortCollections orders collections in place: entries with an order come
// first, ascending; the rest follow sorted by name. Ties keep their input order.
func SortCollections(collections []model.VdirCollectionConfig) {
	slices.SortStableFunc(collections, compareCollections)
}

func compareCollections(a, b model.VdirCollectionConfig) int {
	switch {
	case a.Order != nil && b.Order != nil:
		return cmp.Compare(*a.Order, *b.Order)
	case a.Order != nil:
		return -1
	case b.Order != nil:
		return 1
	default:
		return strings.Compare(a.Name, b.Name)
	}
}
