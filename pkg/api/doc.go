// Package api exposes the HTTP surface: authentication flows, organization
// and building management, visitor check-in, and the admin endpoints. The
// handlers stay thin; they validate input, run the access gate, call a
// service and map its result code onto a response.
package api
