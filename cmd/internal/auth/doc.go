// Package auth ties token signing, refresh rotation, and identity lookup
// into the login/refresh/logout operations the HTTP and websocket layers
// consume.
package auth
