package entitymap

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/kavachlabs/erpsync/pkg/jsonutil"
)

// SyncHash computes the hex SHA-256 digest over the JSON serialisation
// of the payload used to produce the remote write. Struct payloads
// serialise in field declaration order, so equal structs hash equally.
// The encoder does not sort map keys, so the key order of a map payload,
// and with it the hash, is not guaranteed to be stable; callers needing a
// stable hash should pass a struct, not a map.
func SyncHash(payload interface{}) (string, error) {
	data, err := jsonutil.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
