// Package vpath holds every piece of path handling for the virtual file system.
// Nothing outside this package splits or joins path strings; the rest of the
// module only ever passes canonical values around.
//
// A canonical path always begins with "/", never ends with "/" (except the root
// itself), and contains no empty, "." or ".." segments.
package vpath

import "strings"

// Root is the canonical path of the tree root.
const Root = "/"

const separator = "/"

// Normalize returns the canonical form of p. It is total over all strings:
//
//   - a missing leading slash is added
//   - runs of slashes and trailing slashes collapse
//   - "." segments are dropped
//   - ".." removes the previous segment and is clamped at the root
//
// Normalize(Normalize(p)) == Normalize(p) for every p.
func Normalize(p string) string {
	if p == Root {
		return Root
	}

	segments := strings.Split(p, separator)
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(kept) > 0 {
				kept = kept[:len(kept)-1]
			}
		default:
			kept = append(kept, seg)
		}
	}

	if len(kept) == 0 {
		return Root
	}
	return separator + strings.Join(kept, separator)
}

// Parent returns the canonical path of the directory containing p.
// The parent of the root is the root.
func Parent(p string) string {
	p = Normalize(p)
	if p == Root {
		return Root
	}
	idx := strings.LastIndex(p, separator)
	if idx <= 0 {
		return Root
	}
	return p[:idx]
}

// Base returns the last segment of p, or "" for the root.
func Base(p string) string {
	p = Normalize(p)
	if p == Root {
		return ""
	}
	return p[strings.LastIndex(p, separator)+1:]
}

// Join joins the elements and normalizes the result.
func Join(elem ...string) string {
	return Normalize(strings.Join(elem, separator))
}

// Resolve interprets p relative to the working directory cwd unless p is
// already absolute.
func Resolve(cwd, p string) string {
	if strings.HasPrefix(p, separator) {
		return Normalize(p)
	}
	return Join(cwd, p)
}

// IsRoot reports whether p names the root.
func IsRoot(p string) bool {
	return Normalize(p) == Root
}

// IsAncestor reports whether a is a strict ancestor of b. Both arguments must
// already be canonical.
func IsAncestor(a, b string) bool {
	if a == b {
		return false
	}
	if a == Root {
		return true
	}
	return strings.HasPrefix(b, a+separator)
}

// Overlaps reports whether one of a and b is an ancestor-or-self of the other.
// Both arguments must already be canonical.
func Overlaps(a, b string) bool {
	return a == b || IsAncestor(a, b) || IsAncestor(b, a)
}

// Depth returns the number of segments in p; the root has depth 0.
func Depth(p string) int {
	p = Normalize(p)
	if p == Root {
		return 0
	}
	return strings.Count(p, separator)
}

// Ext returns the extension of the last segment of p, dot included. Hidden
// files such as ".profile" have no extension.
func Ext(p string) string {
	base := Base(p)
	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}
