//go:build cgo

package store

// The go-libsql driver is cgo-only upstream (every source file in that
// module carries a cgo build constraint), so its registration import can
// only compile in cgo-enabled builds.
import _ "github.com/tursodatabase/go-libsql"
