package panos

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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/x-stp/pawl/internal/core"
)

// ErrNotAuthenticated is returned when a call needs an API key and none is set.
var ErrNotAuthenticated = core.NewError(core.KindAuth, "panos", "not authenticated: no API key")

// transportError types an error from http.Client.Do.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &core.Error{Kind: core.KindTransport, Op: op, Msg: "request timed out: " + err.Error(), Err: err}
	}
	var oe *net.OpError
	var de *net.DNSError
	if errors.As(err, &oe) || errors.As(err, &de) {
		return &core.Error{Kind: core.KindTransport, Op: op, Msg: err.Error(), Err: err}
	}
	return &core.Error{Kind: core.ClassifyMessage(err.Error()), Op: op, Msg: err.Error(), Err: err}
}

// statusError types a non-2xx HTTP answer. body may hold an XML error envelope.
func statusError(op string, code int, body []byte) error {
	msg := fmt.Sprintf("HTTP %d", code)
	if n, err := parseResponse(body); err == nil {
		msg = fmt.Sprintf("HTTP %d: %s", code, n.message())
	}
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.NewError(core.KindAuth, op, msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout, http.StatusBadGateway, http.StatusServiceUnavailable:
		return core.NewError(core.KindTransport, op, msg)
	default:
		return core.NewError(core.KindRemote, op, msg)
	}
}

// responseError types a status="error" envelope.
func responseError(op string, n *node) error {
	msg := n.message()
	if n.attr("code") == "403" || isCredentialMessage(msg) {
		return core.NewError(core.KindAuth, op, msg)
	}
	return core.NewError(core.KindRemote, op, msg)
}

func isCredentialMessage(msg string) bool {
	s := strings.ToLower(msg)
	return strings.Contains(s, "invalid credential") || strings.Contains(s, "invalid key") ||
		(strings.Contains(s, "api key") && strings.Contains(s, "expired"))
}

// kindLabel is the metrics label for err.
func kindLabel(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return core.KindOf(err).String()
}
