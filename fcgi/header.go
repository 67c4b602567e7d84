// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fcgi

import "strings"

// knownHTTPHeaderSuffixes maps the suffix of an HTTP_* CGI variable
// (everything after "HTTP_") to its canonical header name, for the
// closed set of headers spec.md §4.6 calls out by name. Anything not in
// this table is an "extension" header: canonicalized mechanically by
// canonicalizeHeaderName instead of being looked up here.
var knownHTTPHeaderSuffixes = map[string]string{
	"ACCEPT":              "Accept",
	"ACCEPT_CHARSET":      "Accept-Charset",
	"ACCEPT_ENCODING":     "Accept-Encoding",
	"ACCEPT_LANGUAGE":     "Accept-Language",
	"AUTHORIZATION":       "Authorization",
	"CACHE_CONTROL":       "Cache-Control",
	"CONNECTION":          "Connection",
	"CONTENT_LENGTH":      "Content-Length",
	"CONTENT_TYPE":        "Content-Type",
	"COOKIE":              "Cookie",
	"EXPIRES":             "Expires",
	"HOST":                "Host",
	"IF_MATCH":            "If-Match",
	"IF_MODIFIED_SINCE":   "If-Modified-Since",
	"IF_NONE_MATCH":       "If-None-Match",
	"IF_RANGE":            "If-Range",
	"IF_UNMODIFIED_SINCE": "If-Unmodified-Since",
	"LAST_MODIFIED":       "Last-Modified",
	"ORIGIN":              "Origin",
	"RANGE":               "Range",
	"REFERER":             "Referer",
	"ALLOW":               "Allow",
	"USER_AGENT":          "User-Agent",
	"X_FORWARDED_FOR":     "X-Forwarded-For",
	"X_FORWARDED_PROTO":   "X-Forwarded-Proto",
}

// httpVariablePrefix is the CGI variable prefix every HTTP header is
// delivered under (RFC 3875 §4.1.18).
const httpVariablePrefix = "HTTP_"

// canonicalizeHeaderName turns the suffix of an HTTP_* variable name
// into a canonical header name. Known suffixes use the exact names in
// knownHTTPHeaderSuffixes; anything else is split on '_', each token is
// title-cased (first character upper, rest lower), and the tokens are
// rejoined with '-' -- e.g. HTTP_X_CUSTOM_HEADER -> X-Custom-Header.
func canonicalizeHeaderName(suffix string) string {
	if canon, ok := knownHTTPHeaderSuffixes[suffix]; ok {
		return canon
	}
	tokens := strings.Split(suffix, "_")
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		lower := strings.ToLower(tok)
		tokens[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(tokens, "-")
}
