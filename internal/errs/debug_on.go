//go:build enginedebug

package errs

// Debug makes consistency violations fatal.
const Debug = true
