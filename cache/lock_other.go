//go:build !unix

package cache

import "os"

// Advisory locking is unavailable here; correctness of a shared log
// then rests on appends of small records being effectively atomic.
func lockFile(*os.File) error   { return nil }
func unlockFile(*os.File) error { return nil }
