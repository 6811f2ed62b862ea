package kg

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// fileStem returns the base filename without its extension.
func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// singularize strips a plural suffix from a label: "ies" becomes "y"
// ("Assemblies" -> "Assembly"), otherwise a trailing "s" is dropped
// ("Products" -> "Product"). Anything else passes through unchanged.
func singularize(name string) string {
	switch {
	case strings.HasSuffix(name, "ies"):
		return strings.TrimSuffix(name, "ies") + "y"
	case strings.HasSuffix(name, "ss"):
		return name
	case strings.HasSuffix(name, "s"):
		return strings.TrimSuffix(name, "s")
	default:
		return name
	}
}

// entityLabelFromName turns a snake_case name into a singular TitleCase
// entity label: "product_supplier" -> "ProductSupplier", "parts" -> "Part".
func entityLabelFromName(name string) string {
	words := strings.Split(strings.ToLower(name), "_")
	var b strings.Builder
	for _, w := range words {
		if w == "" {
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(w[1:])
	}
	return singularize(b.String())
}

// referencedEntityFromColumn derives the entity label a foreign-key column
// points at: "supplier_id" -> "Supplier".
func referencedEntityFromColumn(column string) string {
	base := strings.TrimSuffix(strings.ToLower(column), "_id")
	if base == "" {
		return ""
	}
	return entityLabelFromName(base)
}

// sha256Hex returns the hex-encoded SHA-256 of data. Used as the content
// version for artifact documents.
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// dedupeStrings removes duplicates while preserving first-seen order.
func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// containsToken reports whether s contains any of the tokens.
func containsToken(s string, tokens []string) bool {
	for _, tok := range tokens {
		if tok != "" && strings.Contains(s, tok) {
			return true
		}
	}
	return false
}
