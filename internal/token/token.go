package token

import (
	"encoding/hex"
	"fmt"
	"net"

	"golang.org/x/crypto/blake2b"
)

// Len is the length of a derived token in hex characters.
const Len = 32

// Deriver turns a caller's network address into a token. With a secret the
// digest is keyed, so tokens cannot be computed from addresses alone.
type Deriver struct {
	key         []byte
	includePort bool
}

func NewDeriver(secret string, includePort bool) (*Deriver, error) {
	key := []byte(secret)
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("token secret too long: %d bytes (max %d)", len(key), blake2b.Size)
	}
	if len(key) == 0 {
		key = nil
	}
	return &Deriver{key: key, includePort: includePort}, nil
}

// Derive hashes remoteAddr ("ip:port" or bare ip). Without includePort,
// every connection from one host maps to the same token.
func (d *Deriver) Derive(remoteAddr string) string {
	addr := remoteAddr
	if !d.includePort {
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			addr = host
		}
	}
	h, err := blake2b.New256(d.key)
	if err != nil {
		// key length is checked in NewDeriver
		panic(err)
	}
	h.Write([]byte(addr))
	return hex.EncodeToString(h.Sum(nil))[:Len]
}
