// Package jwt signs and verifies the access and refresh tokens issued by the
// token service. It knows nothing about storage: revocation, rotation and
// token-version checks happen in package token on top of the parsed claims.
package jwt
