package surt

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www23.example.com/some/path", "com,example)/some/path"},
		{"https://example.com/www2.example/some/value", "com,example)/www2.example/some/value"},
		{"https://abc.www.example.com/example", "com,example,www,abc)/example"},
		{"https://www.example.com:443/some/path", "com,example)/some/path"},
		{"http://www.example.com:80/some/path", "com,example)/some/path"},
		{"https://www.example.com:123/some/path", "com,example:123)/some/path"},
		{"https://www.example.com/some/path?D=1&CC=2&EE=3", "com,example)/some/path?cc=2&d=1&ee=3"},
		{"https://www.example.com/some/path?a=b&c&cc=1&d=e", "com,example)/some/path?a=b&c=&cc=1&d=e"},
	}

	for _, tc := range cases {
		u, err := url.Parse(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, Canonicalize(u), "input %s", tc.in)
	}
}

func TestCanonicalizeStablePerHopResolution(t *testing.T) {
	base, err := url.Parse("https://www.example.com/a/b?x=1")
	require.NoError(t, err)

	joined, err := base.Parse("/c/d?Y=2")
	require.NoError(t, err)

	require.Equal(t, "com,example)/c/d?y=2", Canonicalize(joined))
}
