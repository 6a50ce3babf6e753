package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// fallbackEncodings are tried in order when content is not valid UTF-8.
// Latin-1 maps every byte, so decoding never fails outright.
var fallbackEncodings = []encoding.Encoding{
	simplifiedchinese.GBK,
	simplifiedchinese.GB18030,
	charmap.ISO8859_1,
}

func decodeText(content []byte) string {
	if utf8.Valid(content) {
		return string(bytes.TrimPrefix(content, utf8BOM))
	}
	for _, enc := range fallbackEncodings {
		out, err := enc.NewDecoder().Bytes(content)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		return string(out)
	}
	return strings.ToValidUTF8(string(content), "�")
}
