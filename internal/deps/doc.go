// Package deps resolves the external binaries storyloom shells out to.
package deps
