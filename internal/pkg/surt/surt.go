// Package surt implements the Sort-friendly URI Reordering Transform used as
// the content-addressed archive's canonical key.
package surt

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var wwwPrefix = regexp.MustCompile(`^www\d*\.`)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
	"ws":    "80",
	"wss":   "443",
}

// Canonicalize computes the SURT key for u, e.g.
// https://www.example.com/some/path?D=1&CC=2 -> com,example)/some/path?cc=2&d=1
func Canonicalize(u *url.URL) string {
	var b strings.Builder

	host := canonicalHost(u.Hostname())
	writeReversedHost(&b, host)

	if port := nonDefaultPort(u); port != "" {
		b.WriteByte(':')
		b.WriteString(port)
	}

	b.WriteByte(')')
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if q := canonicalQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}

	return b.String()
}

// canonicalHost lowercases and ASCII-normalizes (IDNA) the host, then strips
// a leading "www" / "wwwNN." label.
func canonicalHost(host string) string {
	host = strings.ToLower(host)

	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}

	if loc := wwwPrefix.FindStringIndex(host); loc != nil {
		host = host[loc[1]:]
	}

	return host
}

func writeReversedHost(b *strings.Builder, host string) {
	if host == "" {
		return
	}
	parts := strings.Split(host, ".")
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
		if i != 0 {
			b.WriteByte(',')
		}
	}
}

func nonDefaultPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		return ""
	}
	if defaultPorts[strings.ToLower(u.Scheme)] == port {
		return ""
	}
	if _, err := strconv.Atoi(port); err != nil {
		return ""
	}
	return port
}

// canonicalQuery lower-cases keys and values and sorts pairs by key. A query
// param with no "=" serializes with an empty value, matching
// "a=b&c&cc=1&d=e" -> "a=b&c=&cc=1&d=e".
func canonicalQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	type pair struct{ key, value string }
	var pairs []pair

	for _, piece := range strings.Split(rawQuery, "&") {
		if piece == "" {
			continue
		}

		var key, value string
		if idx := strings.IndexByte(piece, '='); idx >= 0 {
			key, value = piece[:idx], piece[idx+1:]
		} else {
			key = piece
		}

		key = lowerQueryComponent(key)
		value = lowerQueryComponent(value)

		pairs = append(pairs, pair{key, value})
	}

	if len(pairs) == 0 {
		return ""
	}

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var b strings.Builder
	for i, p := range pairs {
		if i != 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return b.String()
}

func lowerQueryComponent(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		decoded = s
	}
	return strings.ToLower(decoded)
}
