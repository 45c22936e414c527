package httpclient

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeQuery(t *testing.T) {
	tests := []struct {
		name string
		tree any
		want string
	}{
		{
			name: "given nil tree, then query is empty",
			tree: nil,
			want: "",
		},
		{
			name: "given top-level scalar, then nothing is produced",
			tree: "lonely",
			want: "",
		},
		{
			name: "given list value, then each item gets an indexed key",
			tree: Params{{Key: "id", Value: []int{1, 2, 3}}},
			want: "id%5B%5D=1&id%5B%5D=2&id%5B%5D=3",
		},
		{
			name: "given nested object, then keys are bracketed",
			tree: Params{{Key: "filter", Value: Params{
				{Key: "color", Value: "red"},
				{Key: "size", Value: 42},
			}}},
			want: "filter%5Bcolor%5D=red&filter%5Bsize%5D=42",
		},
		{
			name: "given nil values at any depth, then they are skipped",
			tree: Params{
				{Key: "a", Value: nil},
				{Key: "b", Value: Params{{Key: "c", Value: nil}, {Key: "d", Value: true}}},
			},
			want: "b%5Bd%5D=true",
		},
		{
			name: "given map tree, then keys are serialized in sorted order",
			tree: map[string]any{"z": "last", "a": "first"},
			want: "a=first&z=last",
		},
		{
			name: "given reserved characters, then they are percent-encoded",
			tree: Params{{Key: "q", Value: "a&b=c d"}},
			want: "q=a%26b%3Dc+d",
		},
		{
			name: "given list of objects, then both suffixes combine",
			tree: Params{{Key: "items", Value: []any{
				map[string]any{"id": 1},
				map[string]any{"id": 2},
			}}},
			want: "items%5B%5D%5Bid%5D=1&items%5B%5D%5Bid%5D=2",
		},
		{
			name: "given url.Values, then every value is kept",
			tree: url.Values{"tag": {"x", "y"}},
			want: "tag=x&tag=y",
		},
		{
			name: "given nested typed map, then keys are bracketed",
			tree: Params{{Key: "filter", Value: map[string]int{"b": 2, "a": 1}}},
			want: "filter%5Ba%5D=1&filter%5Bb%5D=2",
		},
		{
			name: "given map of lists, then each item is listed under its key",
			tree: map[string][]string{"tag": {"x", "y"}},
			want: "tag%5B%5D=x&tag%5B%5D=y",
		},
		{
			name: "given nested struct, then its JSON fields are bracketed",
			tree: Params{{Key: "filter", Value: struct {
				Color string `json:"color"`
				Size  int    `json:"size,omitempty"`
			}{Color: "red"}}},
			want: "filter%5Bcolor%5D=red",
		},
		{
			name: "given pointer to struct, then it is walked",
			tree: Params{{Key: "page", Value: &struct{ Num int }{Num: 3}}},
			want: "page%5BNum%5D=3",
		},
		{
			name: "given top-level typed map, then sorted keys",
			tree: map[string]int{"z": 26, "a": 1},
			want: "a=1&z=26",
		},
		{
			name: "given floats, then the shortest form is used",
			tree: Params{{Key: "lat", Value: 1.5}, {Key: "n", Value: float32(2)}},
			want: "lat=1.5&n=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeQuery(tt.tree))
		})
	}
}

func TestSerializeParams_KeepsInsertionOrder(t *testing.T) {
	params := Params{}.
		Add("name", "john").
		Add("age", 30).
		Add("name", "jane")

	got := SerializeParams(params)

	assert.Equal(t, []QueryPair{
		{Key: "name", Value: "john"},
		{Key: "age", Value: "30"},
		{Key: "name", Value: "jane"},
	}, got)
}

func TestEncodeQuery_FlatTreeRoundTrips(t *testing.T) {
	params := Params{}.
		Add("q", "shoes & socks").
		Add("page", 2).
		Add("sort", "price=asc").
		Add("in_stock", true)

	encoded := EncodeQuery(params)

	values, err := url.ParseQuery(encoded)
	require.NoError(t, err)
	assert.Equal(t, url.Values{
		"q":        {"shoes & socks"},
		"page":     {"2"},
		"sort":     {"price=asc"},
		"in_stock": {"true"},
	}, values)

	var keys []string
	for _, pair := range strings.Split(encoded, "&") {
		key, _, _ := strings.Cut(pair, "=")
		keys = append(keys, key)
	}
	assert.Equal(t, []string{"q", "page", "sort", "in_stock"}, keys)
}

func TestParams_Get(t *testing.T) {
	p := Params{}.Add("a", 1).Add("a", 2)

	v, ok := p.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = p.Get("missing")
	assert.False(t, ok)
}
