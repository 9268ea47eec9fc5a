package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/stockd/pkg/store"
)

// Key layout
//
//	Prefix  Key format                Value
//	"r:"    r:<domain>:<seq %020d>    row (JSON array of strings)
//	"n:"    n:<domain>                next sequence number (uint64, big endian)
//
// The zero-padded sequence keeps Badger's lexical iteration in append order.

const (
	prefixRow  = "r:"
	prefixNext = "n:"
)

func keyRowPrefix(d store.Domain) []byte {
	return []byte(prefixRow + string(d) + ":")
}

func keyRow(d store.Domain, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixRow, d, seq))
}

func keyNext(d store.Domain) []byte {
	return []byte(prefixNext + string(d))
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func decodeSeq(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid sequence value length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
