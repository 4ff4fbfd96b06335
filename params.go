package restq

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
)

// Params holds query parameters for a fetch. Values may be scalars or
// slices; slice values repeat the key once per element in original order.
// Nil values are skipped entirely.
type Params map[string]any

// Encode serializes params to a query string without a leading "?".
// An empty or nil map encodes to "". Keys are emitted in sorted order so
// that identical param sets always produce identical cache keys.
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := p[k]
		if v == nil {
			continue
		}

		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Ptr, reflect.Interface:
			if rv.IsNil() {
				continue
			}
			appendPair(&b, k, rv.Elem().Interface())
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				el := rv.Index(i)
				if (el.Kind() == reflect.Ptr || el.Kind() == reflect.Interface) && el.IsNil() {
					continue
				}
				appendPair(&b, k, el.Interface())
			}
		default:
			appendPair(&b, k, v)
		}
	}

	return b.String()
}

func appendPair(b *strings.Builder, key string, value any) {
	if b.Len() > 0 {
		b.WriteByte('&')
	}
	b.WriteString(url.QueryEscape(key))
	b.WriteByte('=')
	b.WriteString(url.QueryEscape(fmt.Sprint(value)))
}

// withQuery joins a URL and an encoded query string.
func withQuery(rawURL, query string) string {
	if query == "" {
		return rawURL
	}
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + query
	}
	return rawURL + "?" + query
}
