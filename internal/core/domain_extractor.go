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
	"strings"
)

// ExtractDomain pulls the blocked hostname out of a URL log record.
//
// The first non-empty field in URLFields is taken as the raw URL text. Its
// host part is accepted when it has a dot, is longer than MinDomainLength and
// contains one of terms. Otherwise the raw text is split on the first of
// URLSeparators it contains, since some fields carry several concatenated
// URLs (tracking redirects, consent parameters), and the first fragment whose
// host qualifies the same way wins. Later separators are not tried.
//
// The host must carry the term itself so that extracting from a result
// yields that result again.
//
// Pure and per-record; callers deduplicate. The second result is false when
// nothing qualifies.
func ExtractDomain(rec Record, terms []string) (string, bool) {
	raw := urlText(rec)
	if raw == "" || !containsAnyTerm(raw, terms) {
		return "", false
	}

	if d := hostPart(raw); plausibleHost(d) && containsAnyTerm(d, terms) {
		return d, true
	}

	for _, sep := range URLSeparators {
		if !strings.Contains(raw, sep) {
			continue
		}
		for _, frag := range strings.Split(raw, sep) {
			frag = strings.TrimSpace(frag)
			if frag == "" || !containsAnyTerm(frag, terms) {
				continue
			}
			if d := hostPart(frag); plausibleHost(d) && containsAnyTerm(d, terms) {
				return d, true
			}
		}
		break
	}
	return "", false
}

// urlText returns the first populated URL-bearing field.
func urlText(rec Record) string {
	for _, f := range URLFields {
		if v := rec[f]; strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// hostPart strips a scheme and cuts at the first path, port, query or
// parameter delimiter.
func hostPart(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/:?&"); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".")
}

func plausibleHost(d string) bool {
	return len(d) > MinDomainLength && strings.Contains(d, ".") && !hasControlOrMarkup(d)
}

func containsAnyTerm(s string, terms []string) bool {
	ls := strings.ToLower(s)
	for _, t := range terms {
		if strings.Contains(ls, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// matchingTerm returns the first term found in s, for diagnostics.
func matchingTerm(s string, terms []string) string {
	ls := strings.ToLower(s)
	for _, t := range terms {
		if strings.Contains(ls, strings.ToLower(t)) {
			return t
		}
	}
	return ""
}

func hasControlOrMarkup(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
		switch r {
		case '<', '>', '"', '\'', '`', ' ', '\\':
			return true
		}
	}
	return false
}
