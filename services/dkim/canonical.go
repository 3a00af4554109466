package dkim

import (
	"bufio"
	"bytes"
	"hash"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var crlf = []byte("\r\n")

// messageHeader is one header field, possibly folded over multiple lines.
type messageHeader struct {
	key   string // Original case.
	lkey  string // Lower case, for relaxed canonicalization.
	raw   []byte // Full field including key, colon and crlf, for simple canonicalization.
	value []byte // Value only, including folding crlf.
}

// splitMessage parses the header section of an RFC 5322 message and returns
// the headers plus the byte offset where the body starts.
func splitMessage(msg []byte) ([]messageHeader, int, error) {
	br := bufio.NewReader(bytes.NewReader(msg))

	var offset int
	var headers []messageHeader
	var key, lkey string
	var value []byte
	var raw []byte
	for {
		line, err := readFoldedLine(br)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, 0, err
		}
		offset += len(line)
		if bytes.Equal(line, crlf) {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			if key == "" {
				return nil, 0, errors.New("malformed message, starts with space/tab")
			}
			value = append(value, line...)
			raw = append(raw, line...)
			continue
		}
		if key != "" {
			headers = append(headers, messageHeader{key, lkey, raw, value})
		}
		t := bytes.SplitN(line, []byte(":"), 2)
		if len(t) != 2 {
			return nil, 0, errors.New("malformed message, header without colon")
		}

		key = strings.TrimRight(string(t[0]), " \t")
		for _, c := range key {
			if c <= ' ' || c >= 0x7f {
				return nil, 0, errors.New("invalid header field name")
			}
		}
		if key == "" {
			return nil, 0, errors.New("empty header key")
		}
		lkey = strings.ToLower(key)
		value = append([]byte{}, t[1]...)
		raw = append([]byte{}, line...)
	}
	if key != "" {
		headers = append(headers, messageHeader{key, lkey, raw, value})
	}
	return headers, offset, nil
}

func readFoldedLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		line, err := r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF && len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		buf = append(buf, line...)
		if bytes.HasSuffix(buf, crlf) || err == io.EOF {
			return buf, nil
		}
	}
}

// bodyHash computes the bh= value over the canonicalized body. Both schemes
// reduce any amount of trailing empty lines to a single crlf.
func bodyHash(h hash.Hash, relaxed bool, body []byte) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(body))

	if !relaxed {
		ncrlf := 0
		for {
			buf, err := br.ReadBytes('\n')
			if len(buf) == 0 && err == io.EOF {
				break
			}
			if err != nil && err != io.EOF {
				return nil, err
			}
			hascrlf := bytes.HasSuffix(buf, crlf)
			if hascrlf {
				buf = buf[:len(buf)-2]
			}
			if len(buf) > 0 {
				for ; ncrlf > 0; ncrlf-- {
					h.Write(crlf)
				}
				h.Write(buf)
			}
			if hascrlf {
				ncrlf++
			}
		}
		h.Write(crlf)
		return h.Sum(nil), nil
	}

	hb := bufio.NewWriter(h)

	// Line by line: collapse WSP runs to one space, strip trailing
	// whitespace, and hold back empty lines until a non-empty one follows
	// so trailing blank lines are dropped.
	stash := &bytes.Buffer{}
	var prev byte
	linesEmpty := true
	var bodynonempty bool
	var hascrlf bool
	for {
		buf, err := br.ReadBytes('\n')
		if len(buf) == 0 && err == io.EOF {
			break
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		bodynonempty = true

		hascrlf = bytes.HasSuffix(buf, crlf)
		if hascrlf {
			buf = buf[:len(buf)-2]
			buf = bytes.TrimRight(buf, " \t")
		}

		for _, c := range buf {
			wsp := c == ' ' || c == '\t'
			if wsp {
				if prev == ' ' {
					continue
				}
				prev = ' '
				c = ' '
			} else {
				prev = c
				linesEmpty = false
			}
			stash.WriteByte(c)
		}
		if hascrlf {
			stash.Write(crlf)
		}
		if !linesEmpty {
			hb.Write(stash.Bytes())
			stash.Reset()
			linesEmpty = true
		}
	}
	if bodynonempty && !hascrlf {
		hb.Write(crlf)
	}

	hb.Flush()
	return h.Sum(nil), nil
}

// dataHash computes the hash that gets signed: the selected headers followed
// by the new DKIM-Signature header with an empty b= value and no trailing
// crlf. When multiple h= entries name the same field, occurrences are
// consumed from the bottom of the message up.
func dataHash(h hash.Hash, relaxed bool, signedHeaders []string, hdrs []messageHeader, sigHeader []byte) ([]byte, error) {
	revHdrs := map[string][]messageHeader{}
	for _, hdr := range hdrs {
		revHdrs[hdr.lkey] = append([]messageHeader{hdr}, revHdrs[hdr.lkey]...)
	}

	var headers string
	for _, key := range signedHeaders {
		lkey := strings.ToLower(key)
		occ := revHdrs[lkey]
		if len(occ) == 0 {
			continue
		}
		revHdrs[lkey] = occ[1:]
		s := string(occ[0].raw)
		if relaxed {
			ch, err := relaxedCanonicalHeader(s)
			if err != nil {
				return nil, err
			}
			headers += ch + "\r\n"
		} else {
			headers += s
		}
	}
	h.Write([]byte(headers))

	// Canonicalization applies to the DKIM-Signature header itself, minus
	// its trailing crlf.
	dkimSig := bytes.TrimSuffix(sigHeader, crlf)
	if relaxed {
		ch, err := relaxedCanonicalHeader(string(dkimSig))
		if err != nil {
			return nil, err
		}
		dkimSig = []byte(ch)
	}
	h.Write(dkimSig)
	return h.Sum(nil), nil
}

// relaxedCanonicalHeader canonicalizes a single (possibly folded) header:
// lower-case key, unfold, collapse WSP runs, trim the value. No trailing crlf.
func relaxedCanonicalHeader(s string) (string, error) {
	t := strings.SplitN(s, ":", 2)
	if len(t) != 2 {
		return "", errors.Errorf("invalid header %q", s)
	}

	v := strings.ReplaceAll(t[1], "\r\n", "")

	var nv []byte
	var prev byte
	for _, c := range []byte(v) {
		if c == ' ' || c == '\t' {
			if prev == ' ' {
				continue
			}
			prev = ' '
			c = ' '
		} else {
			prev = c
		}
		nv = append(nv, c)
	}

	return strings.ToLower(strings.TrimRight(t[0], " \t")) + ":" + strings.Trim(string(nv), " \t"), nil
}
