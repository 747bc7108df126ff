package vdir

import (
	"errors"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	appLog "vdircal/internal/log"
	"vdircal/internal/model"
)

// colorPattern accepts only #RRGGBBAA. Six-digit colors are rejected.
var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{8}$`)

// attrResult is the outcome of reading one metadata attribute.
// ok is false when the file is missing, unreadable, or its content was rejected.
type attrResult[T any] struct {
	value T
	ok    bool
	err   error
}

func (r attrResult[T]) ptr() *T {
	if !r.ok {
		return nil
	}
	v := r.value
	return &v
}

// readAttr reads dir/name, trims it and converts it with conv.
func readAttr[T any](fsys afero.Fs, dir, name string, conv func(string) (T, bool)) attrResult[T] {
	var res attrResult[T]
	data, err := afero.ReadFile(fsys, filepath.Join(dir, name))
	if err != nil {
		res.err = err
		return res
	}
	res.value, res.ok = conv(strings.TrimSpace(string(data)))
	return res
}

func parseColor(s string) (string, bool) {
	if !colorPattern.MatchString(s) {
		return "", false
	}
	return s, true
}

func parseText(s string) (string, bool) {
	return s, true
}

// parseOrder reads a leading base-10 integer with an optional sign, ignoring
// anything after the digits ("3 # work" is 3). Content without leading digits
// is rejected.
func parseOrder(s string) (int, bool) {
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ReadMetadata reads the four optional metadata files of the collection at
// collectionPath. A missing or unreadable file leaves its attribute unset and
// never affects the other three; the result is always usable.
func ReadMetadata(fsys afero.Fs, collectionPath string) model.VdirMetadata {
	color := readAttr(fsys, collectionPath, FileColor, parseColor)
	displayName := readAttr(fsys, collectionPath, FileDisplayName, parseText)
	description := readAttr(fsys, collectionPath, FileDescription, parseText)
	order := readAttr(fsys, collectionPath, FileOrder, parseOrder)

	for name, err := range map[string]error{
		FileColor:       color.err,
		FileDisplayName: displayName.err,
		FileDescription: description.err,
		FileOrder:       order.err,
	} {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			appLog.Debug("vdir metadata file unreadable", "path", collectionPath, "file", name, "err", err)
		}
	}

	return model.VdirMetadata{
		Color:       color.ptr(),
		DisplayName: displayName.ptr(),
		Description: description.ptr(),
		Order:       order.ptr(),
	}
}
