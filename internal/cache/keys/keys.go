package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "cachemngr"

// Collections is the SET of known collection ids.
func Collections() string { return prefix + ":collections" }

// Collection is the HASH holding the collection record.
func Collection(id string) string { return prefix + ":c:" + id }

// Layers is the ZSET of layer ids scored by first-seen sequence.
func Layers(id string) string { return Collection(id) + ":layers" }

// Tiles is the HASH of layer id to derived tile count.
func Tiles(id string) string { return Collection(id) + ":tiles" }

// Documents is the SET of document ids.
func Documents(id string) string { return Collection(id) + ":docs" }

// Lock is the writer lock of a collection, shared by every process.
func Lock(id string) string { return prefix + ":lock:" + id }

// Tile addresses one cached tile of a layer.
func Tile(id, layer, tile string) string {
	return TilePrefix(id, layer) + tile
}

// TileRoot prefixes every tile key of a collection.
func TileRoot(id string) string { return "tile:" + id + ":" }

func TilePrefix(id, layer string) string {
	return TileRoot(id) + layerSegment(layer) + ":"
}

func Document(id, doc string) string {
	return DocumentPrefix(id) + sanitizeForKey(strings.TrimSpace(doc))
}

func DocumentPrefix(id string) string {
	return "doc:" + id + ":"
}

// Pattern turns a key prefix into a SCAN MATCH pattern.
func Pattern(keyPrefix string) string {
	return escapeGlob(keyPrefix) + "*"
}

// layerSegment keeps readable layer names and appends a short hash so two
// layers that sanitize to the same text never share a key space.
func layerSegment(layer string) string {
	layer = strings.TrimSpace(layer)
	safe := sanitizeForKey(layer)
	const maxLen = 80
	if len(safe) > maxLen {
		safe = safe[:maxLen]
	}
	return fmt.Sprintf("%s~%08x", safe, uint32(xxhash.Sum64String(layer)))
}

func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII and ':') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
