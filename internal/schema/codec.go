package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Codec converts list and json_string property values to and from their
// stored string form.
//
// Round-trip contract: for any value v built from nil, bool, string, integer,
// float, []any and map[string]any, Decode(Encode(v)) yields an equal value,
// with integers decoded as int64 (*big.Int beyond the int64 range), floats as
// float64 and map keys in any order.
type Codec interface {
	Encode(value any) (string, error)
	Decode(stored string) (any, error)
}

// LiteralCodec stores collections as Python-literal strings, the layout the
// graph already holds ('single quoted' strings, True/False/None). Decode also
// accepts JSON spellings, so values written by other tools still load.
type LiteralCodec struct{}

// Encode renders value as a literal string.
func (LiteralCodec) Encode(value any) (string, error) {
	var b strings.Builder
	if err := encodeLiteral(&b, value); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Decode parses a literal string.
func (LiteralCodec) Decode(stored string) (any, error) {
	p := &literalParser{src: stored}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing input")
	}
	return v, nil
}

func encodeLiteral(b *strings.Builder, value any) error {
	switch v := value.(type) {
	case nil:
		b.WriteString("None")
	case bool:
		if v {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case string:
		b.WriteString(quoteLiteral(v))
	case json.Number:
		b.WriteString(v.String())
	case int:
		b.WriteString(strconv.Itoa(v))
	case int32:
		b.WriteString(strconv.FormatInt(int64(v), 10))
	case int64:
		b.WriteString(strconv.FormatInt(v, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(v, 10))
	case *big.Int:
		if v == nil {
			b.WriteString("None")
		} else {
			b.WriteString(v.String())
		}
	case float32:
		b.WriteString(formatFloat(float64(v)))
	case float64:
		b.WriteString(formatFloat(v))
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := encodeLiteral(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteLiteral(k))
			b.WriteString(": ")
			if err := encodeLiteral(b, v[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return encodeReflect(b, value)
	}
	return nil
}

// encodeReflect handles typed slices and string-keyed maps such as []string
// or domain.Record without importing those types here.
func encodeReflect(b *strings.Builder, value any) error {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return encodeLiteral(b, items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("literal codec: unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeLiteral(b, m)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.String:
		b.WriteString(quoteLiteral(rv.String()))
	default:
		return fmt.Errorf("literal codec: unsupported value type %T", value)
	}
	return nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// quoteLiteral mirrors repr(): single quotes unless the text contains a single
// quote and no double quote.
func quoteLiteral(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteByte(quote)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) errorf(format string, args ...any) error {
	return fmt.Errorf("literal codec: offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) value() (any, error) {
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of input")
	}
	switch c := p.peek(); {
	case c == '[':
		return p.sequence('[', ']')
	case c == '(':
		return p.sequence('(', ')')
	case c == '{':
		return p.mapping()
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return p.ident()
	}
}

func (p *literalParser) sequence(open, close byte) (any, error) {
	p.pos++
	out := []any{}
	for {
		p.skipSpace()
		if p.peek() == close {
			p.pos++
			return out, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case close:
			p.pos++
			return out, nil
		default:
			return nil, p.errorf("expected ',' or '%c' after %c-sequence item", close, open)
		}
	}
}

func (p *literalParser) mapping() (any, error) {
	p.pos++
	out := map[string]any{}
	var set []any
	isSet := false
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			if isSet {
				return set, nil
			}
			return out, nil
		}
		key, err := p.value()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() == ':' && !isSet {
			p.pos++
			p.skipSpace()
			val, err := p.value()
			if err != nil {
				return nil, err
			}
			ks, ok := key.(string)
			if !ok {
				ks = fmt.Sprint(key)
			}
			out[ks] = val
		} else {
			if len(out) > 0 {
				return nil, p.errorf("mixed set and dict items")
			}
			isSet = true
			set = append(set, key)
		}
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			if isSet {
				return set, nil
			}
			return out, nil
		default:
			return nil, p.errorf("expected ',' or '}'")
		}
	}
}

func (p *literalParser) str() (any, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\':
			if err := p.escape(&b); err != nil {
				return nil, err
			}
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
	return nil, p.errorf("unterminated string")
}

func (p *literalParser) escape(b *strings.Builder) error {
	p.pos++
	if p.pos >= len(p.src) {
		return p.errorf("dangling escape")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case '0':
		b.WriteByte(0)
	case '\n':
	case 'x':
		return p.hexRune(b, 2)
	case 'u':
		return p.hexRune(b, 4)
	case 'U':
		return p.hexRune(b, 8)
	default:
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}

func (p *literalParser) hexRune(b *strings.Builder, digits int) error {
	if p.pos+digits > len(p.src) {
		return p.errorf("truncated escape")
	}
	n, err := strconv.ParseUint(p.src[p.pos:p.pos+digits], 16, 32)
	if err != nil {
		return p.errorf("invalid escape: %v", err)
	}
	p.pos += digits
	b.WriteRune(rune(n))
	return nil
}

func (p *literalParser) number() (any, error) {
	if sign := p.peek(); (sign == '-' || sign == '+') && p.pos+1 < len(p.src) && isLetter(p.src[p.pos+1]) {
		p.pos++
		v, err := p.ident()
		if err != nil {
			return nil, err
		}
		f, ok := v.(float64)
		if !ok {
			return nil, p.errorf("unexpected sign before %v", v)
		}
		if sign == '-' {
			f = -f
		}
		return f, nil
	}

	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' || c == '_' {
			p.pos++
			continue
		}
		break
	}
	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	if !strings.ContainsAny(text, ".eE") {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, strconv.ErrRange) {
			if wide, ok := new(big.Int).SetString(text, 10); ok {
				return wide, nil
			}
		}
		return nil, p.errorf("invalid integer %q", text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf("invalid number %q", text)
	}
	return f, nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (p *literalParser) ident() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	switch word := p.src[start:p.pos]; word {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	case "None", "null":
		return nil, nil
	case "nan":
		return math.NaN(), nil
	case "inf":
		return math.Inf(1), nil
	case "":
		return nil, p.errorf("unexpected character %q", p.peek())
	default:
		return nil, p.errorf("unknown literal %q", word)
	}
}
