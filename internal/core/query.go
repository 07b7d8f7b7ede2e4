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
	"fmt"
	"strings"
	"time"
)

// receiveTimeLayout is the PAN-OS log timestamp format.
const receiveTimeLayout = "2006/01/02 15:04:05"

// TermError describes a search term that was rejected.
type TermError struct {
	Term   string `json:"term"`
	Reason string `json:"reason"`
}

// ParseTerms splits comma-separated input into validated search terms.
// Rejected terms are returned alongside; when no term survives the error is ErrNoTerms.
func ParseTerms(input string) ([]string, []TermError, error) {
	var terms []string
	var rejected []TermError
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(input, ",") {
		t := strings.TrimSpace(raw)
		if t == "" {
			continue
		}
		if reason := checkTerm(t); reason != "" {
			rejected = append(rejected, TermError{Term: t, Reason: reason})
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		return nil, rejected, ErrNoTerms
	}
	return terms, rejected, nil
}

func checkTerm(t string) string {
	if len(t) < MinSearchTermLength {
		return fmt.Sprintf("shorter than %d characters", MinSearchTermLength)
	}
	for _, bad := range forbiddenTermSequences {
		if strings.Contains(t, bad) {
			return fmt.Sprintf("contains forbidden sequence %q", bad)
		}
	}
	return ""
}

// BuildQuery renders the URL log filter for terms, a concrete action and a
// lookback window ending at now. Pure: the same inputs give the same output.
func BuildQuery(terms []string, action Action, lookback time.Duration, now time.Time) (string, error) {
	if len(terms) == 0 {
		return "", ErrNoTerms
	}
	if !action.Concrete() {
		return "", NewError(KindValidation, "build-query", fmt.Sprintf("action %q is not a concrete firewall action", action))
	}

	var cond string
	if len(terms) == 1 {
		cond = containsClause(terms[0])
	} else {
		parts := make([]string, len(terms))
		for i, t := range terms {
			parts[i] = containsClause(t)
		}
		cond = "( " + strings.Join(parts, " ) or ( ") + " )"
	}

	since := now.Add(-lookback).Format(receiveTimeLayout)
	return fmt.Sprintf("( %s ) and ( action eq '%s' ) and ( receive_time geq '%s' )", cond, action, since), nil
}

func containsClause(term string) string {
	return "url contains '" + term + "'"
}
