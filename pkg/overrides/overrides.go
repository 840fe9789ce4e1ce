// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package overrides reads and writes caller-local pinned decisions.
// Overrides live under a single namespaced key, either a cookie or a
// file, as a URL-escaped JSON object of name to value.
package overrides

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/url"
	"strconv"
)

// Key is the cookie name and file key overrides are stored under.
const Key = "flagrunner-overrides"

// Map pins a test, flag or remote config name to a value. Values are
// kept as strings and interpreted against the declared kind at
// resolution time.
type Map map[string]string

// Get returns the override for name, if any. A nil Map has no overrides.
func (m Map) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// With returns a copy of m with name pinned to value.
func (m Map) With(name, value string) Map {
	out := make(Map, len(m)+1)
	maps.Copy(out, m)
	out[name] = value
	return out
}

// Without returns a copy of m with name removed.
func (m Map) Without(name string) Map {
	out := maps.Clone(m)
	delete(out, name)
	return out
}

// Parse decodes a stored override value. Anything malformed yields an
// empty map.
func Parse(raw string) Map {
	if raw == "" {
		return Map{}
	}
	if unescaped, err := url.QueryUnescape(raw); err == nil {
		raw = unescaped
	}

	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return Map{}
	}

	out := make(Map, len(generic))
	for name, v := range generic {
		switch tv := v.(type) {
		case string:
			out[name] = tv
		case bool:
			out[name] = strconv.FormatBool(tv)
		case float64:
			out[name] = strconv.FormatFloat(tv, 'f', -1, 64)
		case nil:
		default:
			b, err := json.Marshal(tv)
			if err == nil {
				out[name] = string(b)
			}
		}
	}
	return out
}

// Encode is the inverse of Parse.
func (m Map) Encode() string {
	if m == nil {
		m = Map{}
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return ""
	}
	return url.QueryEscape(string(b))
}

// FromCookieHeader reads overrides from a raw Cookie header value.
func FromCookieHeader(header string) Map {
	cookies, err := http.ParseCookie(header)
	if err != nil {
		// ParseCookie rejects the whole header on one bad pair; fall back
		// to scanning what the request parser accepts.
		req := http.Request{Header: http.Header{"Cookie": {header}}}
		return FromRequest(&req)
	}
	for _, c := range cookies {
		if c.Name == Key {
			return Parse(c.Value)
		}
	}
	return Map{}
}

// FromRequest reads overrides from the request's cookies.
func FromRequest(r *http.Request) Map {
	c, err := r.Cookie(Key)
	if err != nil {
		return Map{}
	}
	return Parse(c.Value)
}

// Cookie builds the cookie that persists m.
func (m Map) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:     Key,
		Value:    m.Encode(),
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	}
}
