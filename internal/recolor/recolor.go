// Package recolor rewrites HTML response bodies, styling anchor tags green
// or red depending on whether their href currently names a cached key.
package recolor

import "bytes"

const (
	anchorToken = `<a `
	hrefPrefix  = `href="`
	greenStyle  = `style="color:#00FF00;" `
	redStyle    = `style="color:#FF0000;" `
)

// Rewrite scans body for `<a ` tags whose attributes include an
// href="http…" and injects a color style immediately after the `<a `
// token: green if the href is a perfect key prefix match (see Matches)
// of some entry in keys, red otherwise. All other bytes are preserved
// byte-for-byte. The output buffer grows by doubling as it is built, per
// spec §4.5.
func Rewrite(body []byte, keys []string) []byte {
	out := make([]byte, 0, growCap(len(body)))

	i := 0
	for i < len(body) {
		idx := bytes.Index(body[i:], []byte(anchorToken))
		if idx < 0 {
			out = appendGrow(out, body[i:])
			break
		}
		tagStart := i + idx
		out = appendGrow(out, body[i:tagStart+len(anchorToken)])

		href, ok := findHref(body, tagStart+len(anchorToken))
		if !ok {
			i = tagStart + len(anchorToken)
			continue
		}

		if matchesAny(href, keys) {
			out = appendGrow(out, []byte(greenStyle))
		} else {
			out = appendGrow(out, []byte(redStyle))
		}
		i = tagStart + len(anchorToken)
	}
	return out
}

// findHref looks for an href="http…" attribute starting at or after pos,
// but only within the current tag (stops at '>'). It returns the quoted
// value's contents and whether one was found.
func findHref(body []byte, pos int) (string, bool) {
	tagEnd := bytes.IndexByte(body[pos:], '>')
	end := len(body)
	if tagEnd >= 0 {
		end = pos + tagEnd
	}
	tag := body[pos:end]

	hrefIdx := bytes.Index(tag, []byte(hrefPrefix))
	if hrefIdx < 0 {
		return "", false
	}
	valStart := hrefIdx + len(hrefPrefix)
	closeQuote := bytes.IndexByte(tag[valStart:], '"')
	if closeQuote < 0 {
		return "", false
	}
	val := string(tag[valStart : valStart+closeQuote])
	if len(val) < 4 || (val[:4] != "http") {
		return "", false
	}
	return val, true
}

func matchesAny(href string, keys []string) bool {
	for _, k := range keys {
		if Matches(href, k) {
			return true
		}
	}
	return false
}

// Matches implements the "perfect key prefix match" of spec §4.5: T (the
// href) matches candidate key K iff
//  1. |T| <= |K|
//  2. the first four bytes agree ("http" vs "https")
//  3. from the first "//" to the end of T, T equals K byte-for-byte
//  4. at the position where T ends, K is either also at its end, or
//     continues with ":" DIGIT+ (an explicit port T omitted); any other
//     continuation in K is a mismatch.
func Matches(t, k string) bool {
	if len(t) > len(k) {
		return false
	}
	if len(t) < 4 || len(k) < 4 || t[:4] != k[:4] {
		return false
	}
	slash := indexDoubleSlash(t)
	if slash < 0 {
		return false
	}
	if t != k[:len(t)] {
		return false
	}
	if len(t) == len(k) {
		return true
	}
	rest := k[len(t):]
	if rest[0] != ':' {
		return false
	}
	for _, c := range rest[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(rest) > 1
}

func indexDoubleSlash(s string) int {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '/' && s[i+1] == '/' {
			return i
		}
	}
	return -1
}

func growCap(n int) int {
	cap := 64
	for cap < n {
		cap *= 2
	}
	return cap
}

func appendGrow(dst, src []byte) []byte {
	need := len(dst) + len(src)
	if need > cap(dst) {
		newCap := cap(dst)
		if newCap == 0 {
			newCap = 64
		}
		for newCap < need {
			newCap *= 2
		}
		grown := make([]byte, len(dst), newCap)
		copy(grown, dst)
		dst = grown
	}
	return append(dst, src...)
}
