package payments

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// encodingVersion tags the hash preimage layout. Bump it if the field order
// or widths ever change, so old hashes cannot collide with new encodings.
const encodingVersion = 1

// Hash derives the payment identity: a keccak-256 digest over a fixed,
// versioned encoding of every terms field. The hash is the sole key into
// mutable payment state, which makes collected funds unusable under any
// altered terms.
func (t Terms) Hash() common.Hash {
	return crypto.Keccak256Hash(
		pad32(encodingVersion),
		common.LeftPadBytes(t.Operator.Bytes(), 32),
		common.LeftPadBytes(t.Payer.Bytes(), 32),
		common.LeftPadBytes(t.Receiver.Bytes(), 32),
		common.LeftPadBytes(t.Token.Bytes(), 32),
		pad32(t.MaxAmount),
		pad32(uint64(t.PreApprovalExpiry)),
		pad32(uint64(t.AuthorizationExpiry)),
		pad32(uint64(t.RefundExpiry)),
		pad32(uint64(t.MinFeeBps)),
		pad32(uint64(t.MaxFeeBps)),
		common.LeftPadBytes(t.FeeReceiver.Bytes(), 32),
		t.Salt.Bytes(),
	)
}

// pad32 encodes an unsigned integer as a left-padded 32-byte big-endian word.
func pad32(v uint64) []byte {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[24:], v)
	return buf
}
