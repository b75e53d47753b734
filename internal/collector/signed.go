package collector

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apierrors "github.com/KeelPay/escrow/internal/errors"
	"github.com/KeelPay/escrow/internal/ledger"
	"github.com/KeelPay/escrow/pkg/payments"
)

// signingTag versions the authorization digest layout.
const signingTag = "keelpay.collect.v1"

// SignedCollector pulls funds on the strength of a one-time secp256k1
// signature from the source account. AuthData carries the 65-byte signature
// over the collection digest; the recovered signer must equal the account
// being debited. Binding the digest to payment hash, destination store, and
// amount makes a captured signature useless for any other pull.
type SignedCollector struct {
	escrow common.Address
	ledger ledger.Ledger
}

// NewSignedCollector creates the signed-authorization pull strategy.
func NewSignedCollector(escrow common.Address, l ledger.Ledger) *SignedCollector {
	return &SignedCollector{escrow: escrow, ledger: l}
}

func (c *SignedCollector) Name() string { return "signed" }

func (c *SignedCollector) Collect(ctx context.Context, req Request) error {
	if req.Sender != c.escrow {
		return payments.NewOperationError(apierrors.ErrCodeOnlyEscrow, nil)
	}
	if len(req.AuthData) != crypto.SignatureLength {
		return payments.NewOperationError(apierrors.ErrCodeInvalidAuthData,
			fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(req.AuthData)))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, req.AuthData)
	// Accept both raw recovery ids and the 27/28 convention.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := CollectionDigest(req.Hash, req.Store, req.Amount)
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return payments.NewOperationError(apierrors.ErrCodeInvalidSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != req.Source {
		return payments.NewOperationError(apierrors.ErrCodeInvalidSignature,
			errors.New("signer does not match debited account"))
	}

	err = c.ledger.Transfer(ctx, req.Terms.Token, req.Source, req.Store, req.Amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return payments.NewOperationError(apierrors.ErrCodeInsufficientFunds, err)
	default:
		return payments.NewOperationError(apierrors.ErrCodeCollectionFailed, fmt.Errorf("signed pull: %w", err))
	}
}

// CollectionDigest is the message a source account signs to authorize one
// pull: keccak256(tag, payment hash, destination store, amount).
func CollectionDigest(hash common.Hash, store common.Address, amount uint64) common.Hash {
	amt := make([]byte, 32)
	binary.BigEndian.PutUint64(amt[24:], amount)
	return crypto.Keccak256Hash(
		[]byte(signingTag),
		hash.Bytes(),
		common.LeftPadBytes(store.Bytes(), 32),
		amt,
	)
}

// SignAuthorization produces the AuthData payload for SignedCollector:
// the source account's signature over the collection digest.
func SignAuthorization(key *ecdsa.PrivateKey, hash common.Hash, store common.Address, amount uint64) ([]byte, error) {
	digest := CollectionDigest(hash, store, amount)
	return crypto.Sign(digest.Bytes(), key)
}
