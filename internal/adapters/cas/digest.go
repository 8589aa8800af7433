package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// readAndAddress drains r and returns its bytes with their sha256 hex address.
func readAndAddress(r io.Reader) ([]byte, string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(b)
	return b, hex.EncodeToString(sum[:]), nil
}

func validAddress(cid string) bool {
	if len(cid) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(cid)
	return err == nil
}
