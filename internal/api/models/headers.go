package models

// Header is a response header name and value.
type Header struct {
	Name  string
	Value string
}

// SecurityHeaders are set on every API response. The API serves only JSON,
// so nothing may be framed, embedded or loaded from it.
var SecurityHeaders = []Header{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
}

// HeaderForwardedProto carries the client scheme set by a TLS-terminating
// proxy.
const HeaderForwardedProto = "X-Forwarded-Proto"
