// Package interop holds tests that run the kcp engine against
// github.com/xtaci/kcp-go to check that both speak the same wire format.
package interop
