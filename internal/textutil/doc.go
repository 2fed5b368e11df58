// Package textutil holds small string helpers shared by the HTTP and CLI
// layers.
package textutil
