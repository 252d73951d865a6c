package tilestore

import (
	"fmt"
	"path"
	"strconv"
)

// Layout selects how tile coordinates become directories.
type Layout string

const (
	// zz/xxx/xxx/xxx/yyy/yyy/yyy.ext (TileCache)
	LayoutTC Layout = "tc"
	// zz/xxxx/xxxx/yyyy/yyyy.ext (MapProxy)
	LayoutMP Layout = "mp"
	// z/x/y.ext
	LayoutTMS Layout = "tms"
	// y/x/z.ext
	LayoutReverseTMS Layout = "reverse_tms"
)

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(s); l {
	case LayoutTC, LayoutMP, LayoutTMS, LayoutReverseTMS:
		return l, nil
	case "":
		return LayoutTC, nil
	default:
		return "", fmt.Errorf("unknown tile layout %q", s)
	}
}

// Path returns the slash separated location of a tile below its layer root.
func (l Layout) Path(x, y int64, z, ext string) string {
	switch l {
	case LayoutMP:
		return path.Join(
			level(z),
			fmt.Sprintf("%04d", x/10000),
			fmt.Sprintf("%04d", x%10000),
			fmt.Sprintf("%04d", y/10000),
			fmt.Sprintf("%04d", y%10000),
		) + ext
	case LayoutTMS:
		return path.Join(z, strconv.FormatInt(x, 10), strconv.FormatInt(y, 10)) + ext
	case LayoutReverseTMS:
		return path.Join(strconv.FormatInt(y, 10), strconv.FormatInt(x, 10), z) + ext
	default:
		return path.Join(
			level(z),
			fmt.Sprintf("%03d", x/1000000),
			fmt.Sprintf("%03d", (x/1000)%1000),
			fmt.Sprintf("%03d", x%1000),
			fmt.Sprintf("%03d", y/1000000),
			fmt.Sprintf("%03d", (y/1000)%1000),
			fmt.Sprintf("%03d", y%1000),
		) + ext
	}
}

// level zero pads numeric matrix ids and keeps named ones as they are.
func level(z string) string {
	n, err := strconv.Atoi(z)
	if err != nil {
		return z
	}
	return fmt.Sprintf("%02d", n)
}
