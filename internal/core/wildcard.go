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
	"sort"

	"golang.org/x/net/publicsuffix"
)

// SuggestWildcards proposes "*.<registrable domain>" entries for every
// registrable domain shared by at least two hosts in domains. Display aid
// only; suggestions are never added to a category automatically.
func SuggestWildcards(domains []string) []string {
	hosts := make(map[string]map[string]struct{})
	for _, d := range domains {
		base, err := publicsuffix.EffectiveTLDPlusOne(d)
		if err != nil {
			continue
		}
		if hosts[base] == nil {
			hosts[base] = make(map[string]struct{})
		}
		hosts[base][d] = struct{}{}
	}

	var out []string
	for base, set := range hosts {
		if len(set) >= 2 {
			out = append(out, "*."+base)
		}
	}
	sort.Strings(out)
	return out
}
