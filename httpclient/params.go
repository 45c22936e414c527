package httpclient

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Param is a single named entry of a parameter tree.
type Param struct {
	Key   string
	Value any
}

// Params is an ordered parameter tree.
//
// Values may be scalars, lists, nested Params or maps. Serialization keeps the
// order entries were added in, which plain Go maps cannot guarantee.
//
// Example:
//
//	params := httpclient.Params{
//	    {Key: "q", Value: "shoes"},
//	    {Key: "size", Value: []int{41, 42}},
//	    {Key: "filter", Value: httpclient.Params{{Key: "color", Value: "red"}}},
//	}
//	// q=shoes&size%5B%5D=41&size%5B%5D=42&filter%5Bcolor%5D=red
type Params []Param

// Add appends an entry and returns the extended tree.
func (p Params) Add(key string, value any) Params {
	return append(p, Param{Key: key, Value: value})
}

// Get returns the first value stored under key.
func (p Params) Get(key string) (any, bool) {
	for _, e := range p {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// QueryPair is one serialized key/value entry.
type QueryPair struct {
	Key   string
	Value string
}

// SerializeParams flattens a parameter tree into ordered key/value pairs.
//
// Rules:
//   - nil values contribute nothing, at any depth
//   - a list contributes one entry per item under "parent[]"
//   - a nested object contributes one entry per property under "parent[prop]"
//   - a scalar with no enclosing key contributes nothing
//
// Maps are traversed in sorted key order; use Params to control order.
func SerializeParams(tree any) []QueryPair {
	return appendParams(nil, tree, "")
}

// EncodeQuery serializes tree and percent-encodes every key and value,
// joining the pairs with '&' in order.
func EncodeQuery(tree any) string {
	return encodePairs(SerializeParams(tree))
}

func encodePairs(pairs []QueryPair) string {
	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.Value))
	}
	return sb.String()
}

func appendParams(dst []QueryPair, value any, path string) []QueryPair {
	switch v := value.(type) {
	case nil:
		return dst
	case Params:
		for _, e := range v {
			dst = appendParams(dst, e.Value, paramKey(e.Key, path))
		}
		return dst
	case map[string]any:
		for _, k := range sortedKeys(v) {
			dst = appendParams(dst, v[k], paramKey(k, path))
		}
		return dst
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst = appendParams(dst, v[k], paramKey(k, path))
		}
		return dst
	case url.Values:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, item := range v[k] {
				dst = appendParams(dst, item, paramKey(k, path))
			}
		}
		return dst
	case []any:
		for _, item := range v {
			dst = appendParams(dst, item, path+"[]")
		}
		return dst
	case []string:
		for _, item := range v {
			dst = appendParams(dst, item, path+"[]")
		}
		return dst
	}

	if s, ok := scalarString(value); ok {
		if path == "" {
			return dst
		}
		return append(dst, QueryPair{Key: path, Value: s})
	}

	// Remaining lists ([]int, arrays of structs ...) are walked item by item,
	// other maps as objects and structs through their JSON shape.
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			dst = appendParams(dst, rv.Index(i).Interface(), path+"[]")
		}
		return dst
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return dst
		}
		return appendParams(dst, rv.Elem().Interface(), path)
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		values := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			keys = append(keys, k)
			values[k] = iter.Value().Interface()
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst = appendParams(dst, values[k], paramKey(k, path))
		}
		return dst
	case reflect.Struct:
		if tree, err := jsonTree(value); err == nil {
			return appendParams(dst, tree, path)
		}
	}

	if path == "" {
		return dst
	}
	return append(dst, QueryPair{Key: path, Value: fmt.Sprint(value)})
}

// scalarString formats the closed set of scalar kinds.
func scalarString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}

func paramKey(key, path string) string {
	if path == "" {
		return key
	}
	return path + "[" + key + "]"
}

// jsonTree converts v into the generic value its JSON encoding decodes to,
// so struct field tags decide the property names.
func jsonTree(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
