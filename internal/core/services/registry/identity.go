package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Identity derives a node identity from a millisecond timestamp and the
// node's declared name: lowercase hex of sha256("<ms><name>").
func Identity(ms int64, name string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(ms, 10) + name))
	return hex.EncodeToString(sum[:])
}
