package ingest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// textDecoder turns raw attribute bytes into UTF-8 strings.
type textDecoder func(raw string) string

// decodeAuto keeps valid UTF-8 as-is and decodes everything else as GBK,
// the encoding most Chinese GIS exports default to.
func decodeAuto(raw string) string {
	if utf8.ValidString(raw) {
		return raw
	}
	return decodeGBK(raw)
}

func decodeGBK(raw string) string {
	s, err := simplifiedchinese.GBK.NewDecoder().String(raw)
	if err != nil {
		return raw
	}
	return s
}

func decodeUTF8(raw string) string { return raw }

// decoderForShapefile picks a decoder from the .cpg code page file next to
// shpPath, falling back to per-value detection when there is none.
func decoderForShapefile(shpPath string) textDecoder {
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	for _, ext := range []string{".cpg", ".CPG"} {
		data, err := os.ReadFile(base + ext)
		if err != nil {
			continue
		}
		switch cp := strings.ToUpper(strings.TrimSpace(string(data))); cp {
		case "UTF-8", "UTF8", "65001":
			return decodeUTF8
		case "GBK", "GB2312", "GB18030", "CP936", "936", "ANSI 936":
			return decodeGBK
		}
		break
	}
	return decodeAuto
}

// decodeTableBytes strips a UTF-8 byte order mark and converts GBK input to UTF-8.
func decodeTableBytes(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return out
}
