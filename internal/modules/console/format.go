package console

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cryguy/runjs/internal/bridge"
)

const maxInspectDepth = 4

var identRe = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

// Format renders v the way console.log prints it: top-level strings as is,
// everything else in a literal-like form.
func Format(v bridge.Value) string {
	if v.Type() == bridge.TypeString {
		return v.Str()
	}
	var b strings.Builder
	inspect(&b, v, 0)
	return b.String()
}

func inspect(b *strings.Builder, v bridge.Value, depth int) {
	switch v.Type() {
	case bridge.TypeUndefined:
		b.WriteString("undefined")
	case bridge.TypeNull:
		b.WriteString("null")
	case bridge.TypeBool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case bridge.TypeNumber:
		b.WriteString(formatNumber(v.Number()))
	case bridge.TypeString:
		b.WriteString(quote(v.Str()))
	case bridge.TypeBytes:
		data := v.Bytes()
		b.WriteString("Uint8Array(")
		b.WriteString(strconv.Itoa(len(data)))
		b.WriteString(") [")
		for i, x := range data {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(int(x)))
		}
		if len(data) > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(']')
	case bridge.TypeArray:
		items := v.Items()
		if len(items) == 0 {
			b.WriteString("[]")
			return
		}
		if depth >= maxInspectDepth {
			b.WriteString("[Array]")
			return
		}
		b.WriteString("[ ")
		for i, it := range items {
			if i > 0 {
				b.WriteString(", ")
			}
			inspect(b, it, depth+1)
		}
		b.WriteString(" ]")
	case bridge.TypeObject:
		keys := v.Keys()
		if len(keys) == 0 {
			b.WriteString("{}")
			return
		}
		if depth >= maxInspectDepth {
			b.WriteString("[Object]")
			return
		}
		b.WriteString("{ ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			if identRe.MatchString(k) {
				b.WriteString(k)
			} else {
				b.WriteString(quote(k))
			}
			b.WriteString(": ")
			p, _ := v.Get(k)
			inspect(b, p, depth+1)
		}
		b.WriteString(" }")
	case bridge.TypeFunction:
		b.WriteString("[Function]")
	case bridge.TypePromise:
		b.WriteString("Promise {}")
	case bridge.TypeError:
		info := v.ErrorInfo()
		if info.Stack != "" {
			b.WriteString(info.Stack)
			return
		}
		name := info.Name
		if name == "" {
			name = "Error"
		}
		b.WriteString(name)
		if info.Message != "" {
			b.WriteString(": ")
			b.WriteString(info.Message)
		}
	}
}

func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	case n == 0 && math.Signbit(n):
		return "-0"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}
