package dkim

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// signature carries the fields of a DKIM-Signature header under construction.
type signature struct {
	algorithm        string // "rsa-sha256"
	domain           string // d=
	selector         string // s=
	identity         string // i=, "@<domain>"
	canonicalization string // c=, e.g. "relaxed/relaxed"
	signedHeaders    []string
	signTime         int64
	expireTime       int64 // 0 means no x= field
	bodyHash         []byte
	signatureData    []byte // empty while computing the data hash
}

const maxHeaderLine = 78

// render produces the full header including the "DKIM-Signature: " field name
// and trailing crlf, folding long lines with a tab continuation. Field order
// is fixed so the rendering with an empty b= matches what was hashed.
func (s *signature) render() []byte {
	var fields []string
	fields = append(fields,
		"v=1",
		"d="+s.domain,
		"s="+s.selector,
	)
	if s.identity != "" {
		fields = append(fields, "i="+s.identity)
	}
	fields = append(fields, "a="+s.algorithm)
	if s.canonicalization != "" && !strings.EqualFold(s.canonicalization, "simple/simple") {
		fields = append(fields, "c="+s.canonicalization)
	}
	if s.signTime > 0 {
		fields = append(fields, "t="+strconv.FormatInt(s.signTime, 10))
	}
	if s.expireTime > 0 {
		fields = append(fields, "x="+strconv.FormatInt(s.expireTime, 10))
	}
	if len(s.signedHeaders) > 0 {
		fields = append(fields, "h="+strings.Join(s.signedHeaders, ":"))
	}
	fields = append(fields, "bh="+base64.StdEncoding.EncodeToString(s.bodyHash))
	fields = append(fields, "b="+base64.StdEncoding.EncodeToString(s.signatureData))

	var b strings.Builder
	line := "DKIM-Signature:"
	for i, f := range fields {
		sep := " "
		token := f + ";"
		if i == len(fields)-1 {
			token = f
		}
		if len(line)+len(sep)+len(token) > maxHeaderLine && line != "" {
			b.WriteString(line)
			b.WriteString("\r\n")
			line = "\t" + token
			continue
		}
		line += sep + token
	}
	if line != "" {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}
