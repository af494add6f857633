// Package classify decides whether a message attachment is relayed to
// the notification sink and normalizes its display name.
package classify

import (
	"path"
	"strings"
)

// PlaceholderName is used when normalization leaves nothing usable of
// the original file name.
const PlaceholderName = "unnamed-attachment"

// maxNameLength caps normalized names for sink compatibility.
const maxNameLength = 200

// imageExtensions lists raster-image formats that are never relayed;
// the sink renders inline previews for these and forwarding them as
// documents only duplicates what the text notification already conveys.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
	".webp": true,
}

// Result is the outcome of classifying a single attachment.
type Result struct {
	// Eligible reports whether the attachment should be relayed.
	Eligible bool

	// Name is the normalized file name, set when Eligible.
	Name string

	// Reason explains the exclusion, set when not Eligible.
	Reason string
}

// Classify decides whether an attachment with the given raw file name
// is relayed. It is deterministic: the same input always yields the
// same result.
func Classify(rawName string) Result {
	ext := strings.ToLower(path.Ext(rawName))
	if imageExtensions[ext] {
		return Result{Reason: "image attachment (" + ext + ")"}
	}
	return Result{Eligible: true, Name: NormalizeName(rawName)}
}

// NormalizeName rewrites a raw attachment name into a form safe for the
// sink's file-name contract: control characters, path separators, and
// anything outside a conservative subset become underscores, the result
// is length-capped preserving the extension, and names that normalize
// to nothing get a placeholder.
func NormalizeName(raw string) string {
	if raw == "" {
		return PlaceholderName
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if isSafeNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	name := strings.TrimSpace(b.String())

	// Nothing left but filler: substitute a placeholder, keeping the
	// original extension if it survived intact.
	if strings.Trim(name, "._ ") == "" {
		ext := path.Ext(name)
		if strings.Trim(ext, "._ ") == "" {
			return PlaceholderName
		}
		return PlaceholderName + ext
	}

	if len(name) > maxNameLength {
		ext := path.Ext(name)
		if len(ext) >= maxNameLength {
			ext = ""
		}
		name = name[:maxNameLength-len(ext)] + ext
	}

	return name
}

// isSafeNameRune reports whether r is allowed verbatim in a normalized
// attachment name.
func isSafeNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-' || r == ' ':
		return true
	default:
		return false
	}
}
