package api

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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/x-stp/pawl/internal/core"
)

var errBodyTooLarge = errors.New("request body too large")

// decodeJSON reads one JSON object from the request body into dst and runs
// struct validation over it.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return core.NewError(core.KindValidation, "decode", "request body is empty")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return core.NewError(core.KindValidation, "decode", "request body is empty")
		default:
			return core.NewError(core.KindValidation, "decode", fmt.Sprintf("invalid JSON: %v", err))
		}
	}
	if err := core.Validator().Struct(dst); err != nil {
		return core.NewError(core.KindValidation, "decode", core.ValidationMessage(err))
	}
	return nil
}
