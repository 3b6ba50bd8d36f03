package fetcher

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

var metaCharsetEUCKR = []string{`charset=euc-kr`, `charset="euc-kr"`, `charset=ks_c_5601-1987`}

// DecodeBody converts body to UTF-8. EUC-KR (and its ks_c_5601 alias) is
// detected from the Content-Type header or a <meta> charset; other bodies
// are returned as-is.
func DecodeBody(body []byte, contentType string) (string, error) {
	if !isEUCKR(body, contentType) {
		return string(body), nil
	}
	out, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), body)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: decode euc-kr")
	}
	return string(out), nil
}

func isEUCKR(body []byte, contentType string) bool {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		switch strings.ToLower(params["charset"]) {
		case "euc-kr", "ks_c_5601-1987", "cp949":
			return true
		case "utf-8":
			return false
		}
	}
	if utf8.Valid(body) {
		return false
	}
	head := bytes.ToLower(body[:min(len(body), 2048)])
	for _, m := range metaCharsetEUCKR {
		if bytes.Contains(head, []byte(m)) {
			return true
		}
	}
	return false
}
