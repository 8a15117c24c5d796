// Package sso implements single sign-on against Azure AD using OpenID
// Connect. The provider handles the authorization-code dance and ID token
// verification; the service maps a verified Azure identity onto a local
// account, falling back to the link-account flow when no account is linked.
package sso
