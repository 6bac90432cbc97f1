package common

import (
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Store is the persistence surface every engine works against. Values are
// RLP-encoded by the implementation.
type Store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// ModuleAddress derives the deterministic account address of a protocol
// component from its name.
func ModuleAddress(name string) ethcommon.Address {
	hash := ethcrypto.Keccak256([]byte("yieldvault/module/" + strings.TrimSpace(name)))
	return ethcommon.BytesToAddress(hash[12:])
}

// Key joins path segments into a state key, rendering addresses as hex.
func Key(prefix string, parts ...interface{}) []byte {
	var b strings.Builder
	b.WriteString(prefix)
	for _, part := range parts {
		b.WriteByte('/')
		switch v := part.(type) {
		case ethcommon.Address:
			b.WriteString(strings.ToLower(v.Hex()))
		default:
			fmt.Fprint(&b, v)
		}
	}
	return []byte(b.String())
}
