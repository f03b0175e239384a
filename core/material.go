package core

import (
	"fmt"
	"strings"
)

// MaterialKind is the category of collected waste.
type MaterialKind uint8

const (
	MaterialPlastic MaterialKind = iota
	MaterialGlass
	MaterialMetal
	MaterialPaper
)

var materialNames = [...]string{"plastic", "glass", "metal", "paper"}

// ParseMaterialKind validates a raw enumeration value. It takes a wide
// integer so out-of-range wire values surface as INVALID_MATERIAL_TYPE
// rather than a decode error.
func ParseMaterialKind(v int64) (MaterialKind, error) {
	if v < 0 || v >= int64(len(materialNames)) {
		return 0, WithMetadata(CodeInvalidMaterialType, "material type is invalid",
			map[string]string{"value": fmt.Sprint(v)})
	}
	return MaterialKind(v), nil
}

// MaterialKindFromName maps "plastic", "glass", "metal" or "paper"
// (case-insensitive) to its kind.
func MaterialKindFromName(name string) (MaterialKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, known := range materialNames {
		if known == n {
			return MaterialKind(i), nil
		}
	}
	return 0, WithMetadata(CodeInvalidMaterialType, "material type is invalid",
		map[string]string{"value": name})
}

// Valid reports whether k is a recognised member of the enumeration.
func (k MaterialKind) Valid() bool {
	return int(k) < len(materialNames)
}

func (k MaterialKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("material(%d)", uint8(k))
	}
	return materialNames[k]
}
