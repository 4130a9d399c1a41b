// Package vercmp implements pacman-compatible package version comparison.
//
// Versions follow the [epoch:]pkgver[-pkgrel] form. Epochs compare
// numerically and dominate, pkgver and pkgrel compare with the rpm segment
// walk: alternating alphabetic and numeric segments, numeric segments
// compared as integers so "10" sorts after "9". Plain string comparison is
// known-broken for real package versions; everything in the server that
// decides newer/older goes through this package.
package vercmp

import "strings"

// Compare returns -1, 0 or 1 as version a sorts before, equal to or after b.
func Compare(a, b string) int {
	if a == b {
		return 0
	}

	epochA, verA, relA := split(a)
	epochB, verB, relB := split(b)

	if rc := rpmvercmp(epochA, epochB); rc != 0 {
		return rc
	}
	if rc := rpmvercmp(verA, verB); rc != 0 {
		return rc
	}
	// A missing pkgrel matches any pkgrel, per alpm.
	if relA == "" || relB == "" {
		return 0
	}
	return rpmvercmp(relA, relB)
}

// Newer reports whether a is strictly newer than b.
func Newer(a, b string) bool { return Compare(a, b) > 0 }

// Older reports whether a is strictly older than b.
func Older(a, b string) bool { return Compare(a, b) < 0 }

// split separates [epoch:]pkgver[-pkgrel]. A missing epoch is "0".
func split(v string) (epoch, ver, rel string) {
	epoch = "0"
	if i := strings.IndexByte(v, ':'); i >= 0 {
		if e := v[:i]; isAllDigits(e) && e != "" {
			epoch = e
		}
		v = v[i+1:]
	}
	if i := strings.LastIndexByte(v, '-'); i >= 0 {
		return epoch, v[:i], v[i+1:]
	}
	return epoch, v, ""
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }

// rpmvercmp is the segment walk used by libalpm (itself lifted from rpm).
func rpmvercmp(a, b string) int {
	if a == b {
		return 0
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		// Skip separators, tracking how many were skipped: a longer
		// separator run sorts later ("1.0." > "1.0").
		si, sj := i, j
		for i < len(a) && !isAlnum(a[i]) {
			i++
		}
		for j < len(b) && !isAlnum(b[j]) {
			j++
		}
		if i == len(a) || j == len(b) {
			break
		}
		if i-si != j-sj {
			if i-si < j-sj {
				return -1
			}
			return 1
		}

		// Grab the next segment: all digits or all letters.
		isnum := isDigit(a[i])
		ei, ej := i, j
		if isnum {
			for ei < len(a) && isDigit(a[ei]) {
				ei++
			}
			for ej < len(b) && isDigit(b[ej]) {
				ej++
			}
		} else {
			for ei < len(a) && isAlpha(a[ei]) {
				ei++
			}
			for ej < len(b) && isAlpha(b[ej]) {
				ej++
			}
		}

		// Mixed types: the numeric segment is newer ("1.1" > "1.a").
		if ej == j {
			if isnum {
				return 1
			}
			return -1
		}

		segA, segB := a[i:ei], b[j:ej]
		if isnum {
			segA = strings.TrimLeft(segA, "0")
			segB = strings.TrimLeft(segB, "0")
			if len(segA) != len(segB) {
				if len(segA) < len(segB) {
					return -1
				}
				return 1
			}
		}
		if rc := strings.Compare(segA, segB); rc != 0 {
			return rc
		}

		i, j = ei, ej
	}

	// One side ran out while segments compared equal so far.
	if i == len(a) && j == len(b) {
		return 0
	}
	if i < len(a) {
		// A trailing alpha segment sorts older ("1.0rc" < "1.0").
		if isAlpha(a[i]) {
			return -1
		}
		return 1
	}
	if isAlpha(b[j]) {
		return 1
	}
	return -1
}
