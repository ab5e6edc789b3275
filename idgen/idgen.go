// Package idgen provides the identifier generators used for alerts, reports
// and scan runs.
//
// A Generator is a plain func so components take it as a dependency and tests
// can swap in a deterministic one.
package idgen

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID returns a Generator of random base-36 strings of the given length.
func NanoID(length int) Generator {
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = base36[int(buf[i])%len(base36)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs (time-ordered).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID produced by gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Millis returns a Generator producing "<unix millis><suffix>" where suffix
// comes from gen. IDs sort by creation time when compared as same-length
// strings.
func Millis(gen Generator) Generator {
	return MillisAt(time.Now, gen)
}

// MillisAt is Millis with an injectable clock.
func MillisAt(now func() time.Time, gen Generator) Generator {
	return func() string {
		return strconv.FormatInt(now().UnixMilli(), 10) + gen()
	}
}

var (
	// Alert generates alert IDs: millisecond timestamp plus 9 random chars.
	Alert Generator = Millis(NanoID(9))
	// Report generates report IDs.
	Report Generator = Prefixed("rpt_", UUIDv7())
	// Run generates scan run IDs.
	Run Generator = Prefixed("run_", UUIDv7())
)
