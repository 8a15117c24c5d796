// Package middleware provides the HTTP middleware chain: bearer-session
// authentication, request logging, and Redis-backed rate limiting shared
// across instances.
package middleware
