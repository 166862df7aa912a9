package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// WriteEDN writes a strict EDN representation.
//
// Only the subset our payloads need is produced (maps, vectors, strings,
// numbers, booleans, nil). Values go through JSON first so json tags decide
// the keyword names; RFC 3339 strings under time-like keys become #inst.
func WriteEDN(w io.Writer, v any, pretty bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := ednEncoder{pretty: pretty, indent: 2}
	enc.writeAny(&buf, x, 0, "")
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}

type ednEncoder struct {
	pretty bool
	indent int
}

func (e ednEncoder) writeAny(buf *bytes.Buffer, v any, level int, key string) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("nil")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case string:
		if isTimeKey(key) && looksLikeInstant(t) {
			buf.WriteString("#inst ")
		}
		buf.WriteString(strconv.Quote(t))
	case json.Number:
		buf.WriteString(t.String())
	case []any:
		e.writeVec(buf, t, level)
	case map[string]any:
		e.writeMap(buf, t, level)
	default:
		buf.WriteString(strconv.Quote(fmt.Sprintf("%v", v)))
	}
}

func (e ednEncoder) sep(buf *bytes.Buffer, last bool) {
	if last {
		return
	}
	if e.pretty {
		buf.WriteByte('\n')
	} else {
		buf.WriteByte(' ')
	}
}

func (e ednEncoder) pad(buf *bytes.Buffer, level int) {
	if e.pretty {
		buf.WriteString(strings.Repeat(" ", level*e.indent))
	}
}

func (e ednEncoder) writeVec(buf *bytes.Buffer, xs []any, level int) {
	buf.WriteByte('[')
	if len(xs) == 0 {
		buf.WriteByte(']')
		return
	}
	if e.pretty {
		buf.WriteByte('\n')
	}
	for i, it := range xs {
		e.pad(buf, level+1)
		e.writeAny(buf, it, level+1, "")
		e.sep(buf, i == len(xs)-1)
	}
	if e.pretty {
		buf.WriteByte('\n')
		e.pad(buf, level)
	}
	buf.WriteByte(']')
}

func (e ednEncoder) writeMap(buf *bytes.Buffer, m map[string]any, level int) {
	buf.WriteByte('{')
	if len(m) == 0 {
		buf.WriteByte('}')
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if e.pretty {
		buf.WriteByte('\n')
	}
	for i, k := range keys {
		e.pad(buf, level+1)
		buf.WriteByte(':')
		buf.WriteString(ednKeyword(k))
		buf.WriteByte(' ')
		e.writeAny(buf, m[k], level+1, k)
		e.sep(buf, i == len(keys)-1)
	}
	if e.pretty {
		buf.WriteByte('\n')
		e.pad(buf, level)
	}
	buf.WriteByte('}')
}

func ednKeyword(s string) string {
	s = strings.TrimSpace(s)
	return strings.ReplaceAll(s, " ", "-")
}

func isTimeKey(k string) bool {
	return k == "ts" || strings.HasSuffix(k, "At") || strings.HasSuffix(k, "Til")
}

func looksLikeInstant(s string) bool {
	return len(s) >= 20 && s[4] == '-' && s[7] == '-' && s[10] == 'T'
}
