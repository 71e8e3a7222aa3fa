package files

import (
	"crypto/md5"
	"encoding/base64"
)

// digestFunc computes content fingerprints. Tests replace it to count calls.
var digestFunc = Digest

// Digest returns the URL-safe fingerprint of content: the base64 encoded MD5
// sum without "=" padding, with "/" replaced by "_" and "+" by "-".
func Digest(content string) string {
	sum := md5.Sum([]byte(content))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
