package path

import (
	"path/filepath"
	"strings"
)

// Join joins segments. An absolute segment replaces everything before it.
func Join(segments ...string) string {
	var kept []string
	for _, s := range segments {
		if s == "" {
			continue
		}
		if filepath.IsAbs(s) {
			kept = kept[:0]
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return "."
	}
	return filepath.Join(kept...)
}

// components splits p into its non-empty components; the root of an
// absolute path is kept as the first component.
func components(p string) []string {
	var out []string
	if filepath.IsAbs(p) {
		out = append(out, string(filepath.Separator))
	}
	for _, c := range strings.Split(filepath.ToSlash(p), "/") {
		if c == "" || c == "." {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Parent returns p without its final component. The root and the empty
// path have no parent.
func Parent(p string) (string, bool) {
	comps := components(p)
	if len(comps) == 0 || (len(comps) == 1 && HasRoot(p)) {
		return "", false
	}
	if len(comps) == 1 {
		return "", true
	}
	return filepath.Join(comps[:len(comps)-1]...), true
}

// FileName returns the final component unless it is "..".
func FileName(p string) (string, bool) {
	comps := components(p)
	if len(comps) == 0 {
		return "", false
	}
	last := comps[len(comps)-1]
	if last == ".." || (len(comps) == 1 && HasRoot(p)) {
		return "", false
	}
	return last, true
}

func splitExt(name string) (stem, ext string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, "", false
	}
	return name[:i], name[i+1:], true
}

// FileStem returns the file name without its extension.
func FileStem(p string) (string, bool) {
	name, ok := FileName(p)
	if !ok {
		return "", false
	}
	stem, _, _ := splitExt(name)
	return stem, true
}

// Extension returns the extension of the file name without the dot.
func Extension(p string) (string, bool) {
	name, ok := FileName(p)
	if !ok {
		return "", false
	}
	_, ext, ok := splitExt(name)
	return ext, ok
}

// WithFileName replaces the final component of p with name.
func WithFileName(p, name string) string {
	if _, ok := FileName(p); !ok {
		return filepath.Join(p, name)
	}
	parent, _ := Parent(p)
	if parent == "" {
		return name
	}
	return filepath.Join(parent, name)
}

// WithExtension replaces or adds the extension of p. An empty ext removes
// it.
func WithExtension(p, ext string) string {
	stem, ok := FileStem(p)
	if !ok {
		return p
	}
	name := stem
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	return WithFileName(p, name)
}

// HasRoot reports whether p starts at a filesystem root.
func HasRoot(p string) bool {
	return strings.HasPrefix(p, string(filepath.Separator)) || filepath.VolumeName(p) != ""
}

// StartsWith compares whole components.
func StartsWith(p, prefix string) bool {
	_, ok := StripPrefix(p, prefix)
	return ok
}

// EndsWith compares whole components.
func EndsWith(p, suffix string) bool {
	pc, sc := components(p), components(suffix)
	if len(sc) > len(pc) {
		return false
	}
	off := len(pc) - len(sc)
	for i := range sc {
		if pc[off+i] != sc[i] {
			return false
		}
	}
	return true
}

// StripPrefix removes prefix from p comparing whole components.
func StripPrefix(p, prefix string) (string, bool) {
	pc, xc := components(p), components(prefix)
	if len(xc) > len(pc) {
		return "", false
	}
	for i := range xc {
		if pc[i] != xc[i] {
			return "", false
		}
	}
	if len(pc) == len(xc) {
		return "", true
	}
	return filepath.Join(pc[len(xc):]...), true
}
