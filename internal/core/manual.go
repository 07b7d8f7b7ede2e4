package core

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// Reasons attached to rejected manual entries.
const (
	InvalidLength    = "length"
	InvalidCharacter = "forbidden-character"
	InvalidDomain    = "malformed-domain"
)

// InvalidEntry is a manual entry that failed validation, kept verbatim.
type InvalidEntry struct {
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

var (
	manualSplit  = regexp.MustCompile(`[,\n]`)
	hostPattern  = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
	schemePrefix = regexp.MustCompile(`(?i)^https?://`)
)

// ValidateManual splits an operator-typed block on commas and newlines and
// normalizes each entry. Every non-blank entry is either valid or invalid.
// Valid entries keep input order; an entry whose normalized form was already
// seen is dropped without being reported.
func ValidateManual(text string) ([]string, []InvalidEntry) {
	var valid []string
	var invalid []InvalidEntry
	seen := make(map[string]struct{})
	for _, raw := range manualSplit.Split(text, -1) {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		norm, reason := normalizeManual(entry)
		if reason != "" {
			invalid = append(invalid, InvalidEntry{Input: entry, Reason: reason})
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		valid = append(valid, norm)
	}
	return valid, invalid
}

// normalizeManual returns the normalized form of entry, or a rejection reason.
//
// "https://Example.com" becomes "example.com/", "*.Example.com" becomes
// "*.example.com" and "example.com/path" keeps its path.
func normalizeManual(entry string) (string, string) {
	if len(entry) < MinDomainLength || len(entry) > MaxURLLength {
		return "", InvalidLength
	}
	if hasControlOrMarkup(entry) {
		return "", InvalidCharacter
	}

	s := schemePrefix.ReplaceAllString(entry, "")
	wildcard := strings.HasPrefix(s, "*.")
	if wildcard {
		s = s[2:]
	}

	host, path := s, ""
	if i := strings.IndexByte(s, '/'); i >= 0 {
		host, path = s[:i], s[i:]
	}
	if wildcard && path != "" {
		return "", InvalidDomain
	}

	ascii, err := idna.Lookup.ToASCII(strings.ToLower(host))
	if err != nil || !hostPattern.MatchString(ascii) {
		return "", InvalidDomain
	}

	if wildcard {
		return "*." + ascii, ""
	}
	if path == "" {
		path = "/"
	}
	return ascii + strings.ToLower(path), ""
}

// checkNormalized reports why d is not in normalized allow-list form, or "".
// Used to re-check request domains without rewriting them.
func checkNormalized(d string) string {
	norm, reason := normalizeManual(d)
	if reason != "" {
		return reason
	}
	bare := strings.TrimSuffix(norm, "/")
	if d != norm && d != bare {
		return InvalidDomain
	}
	return ""
}
