// Package netloc extracts the authority portion of URL-like strings, more
// leniently than net/url, and provides the label-level helpers the extraction
// engine needs.
package netloc

import (
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

const schemeChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+-."

const acePrefix = "xn--"

// The Unicode dot variants that, alongside U+002E, separate DNS labels:
// U+3002 ideographic full stop, U+FF0E fullwidth full stop and U+FF61
// halfwidth ideographic full stop.
const dotCharacters = ".。．｡"

var unicodeDotReplacer = strings.NewReplacer("。", ".", "．", ".", "｡", ".")

// LenientNetloc returns the netloc of a URL-like string without ever
// failing. A scheme is stripped only when everything before "//" is made up
// of valid scheme characters; userinfo and ports are dropped; a bracketed
// IPv6 literal is returned through its closing bracket; trailing DNS root
// dots (including the Unicode variants) are removed.
func LenientNetloc(urlString string) string {
	afterScheme := schemelessUrl(urlString)

	afterScheme, _, _ = strings.Cut(afterScheme, "/")
	afterScheme, _, _ = strings.Cut(afterScheme, "?")
	afterScheme, _, _ = strings.Cut(afterScheme, "#")

	afterUserinfo := afterScheme
	if atIndex := strings.LastIndexByte(afterUserinfo, '@'); atIndex != -1 {
		afterUserinfo = afterUserinfo[atIndex+1:]
	}

	if strings.HasPrefix(afterUserinfo, "[") {
		if bracketEnd := strings.IndexByte(afterUserinfo, ']'); bracketEnd != -1 {
			return afterUserinfo[:bracketEnd+1]
		}
	}

	hostname, _, _ := strings.Cut(afterUserinfo, ":")
	hostname = strings.TrimSpace(hostname)

	return strings.TrimRight(hostname, dotCharacters)
}

func schemelessUrl(urlString string) string {
	doubleSlashesStart := strings.Index(urlString, "//")
	if doubleSlashesStart == 0 {
		return urlString[2:]
	}
	if doubleSlashesStart < 2 || urlString[doubleSlashesStart-1] != ':' {
		return urlString
	}
	for _, character := range urlString[:doubleSlashesStart-1] {
		if !strings.ContainsRune(schemeChars, character) {
			return urlString
		}
	}
	return urlString[doubleSlashesStart+2:]
}

// ReplaceUnicodeDots normalizes the Unicode dot variants to ASCII periods.
func ReplaceUnicodeDots(netlocString string) string {
	return unicodeDotReplacer.Replace(netlocString)
}

// DecodePunycode lowercases a label and, when it carries the ACE prefix,
// decodes it to Unicode. A label that fails to decode is used as-is in its
// lowercased form rather than failing the whole extraction.
func DecodePunycode(label string) string {
	lowered := strings.ToLower(label)
	if !strings.HasPrefix(lowered, acePrefix) {
		return lowered
	}

	unicoded, err := idna.Lookup.ToUnicode(lowered)
	if err != nil || unicoded == "" {
		return lowered
	}

	return unicoded
}

// LooksLikeIpv4 reports whether the string is exactly four dot-separated
// decimal octets, ASCII digits only, 0-255, with no leading zeros.
func LooksLikeIpv4(maybeIp string) bool {
	if maybeIp == "" || maybeIp[0] < '0' || maybeIp[0] > '9' {
		return false
	}

	groups := strings.Split(maybeIp, ".")
	if len(groups) != 4 {
		return false
	}

	for _, group := range groups {
		if group == "" || len(group) > 3 {
			return false
		}
		if len(group) > 1 && group[0] == '0' {
			return false
		}

		value := 0
		for i := 0; i < len(group); i++ {
			character := group[i]
			if character < '0' || character > '9' {
				return false
			}
			value = value*10 + int(character-'0')
		}
		if value > 255 {
			return false
		}
	}

	return true
}

// LooksLikeIpv6 reports whether the string is a valid IPv6 literal,
// including "::" compression and an embedded IPv4-mapped tail.
func LooksLikeIpv6(maybeIp string) bool {
	address, err := netip.ParseAddr(maybeIp)
	if err != nil {
		return false
	}
	return address.Is6() && address.Zone() == ""
}
