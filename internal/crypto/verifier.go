package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RecoverSigner recovers the Ethereum address that produced a personal-sign
// (EIP-191) signature over message. The signature is the hex-encoded 65-byte
// r||s||v form wallets emit, with or without a 0x prefix and with v in either
// {0,1} or {27,28}.
func RecoverSigner(message []byte, signatureHex string) (common.Address, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/verifier: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/verifier: expected 65-byte signature, got %d bytes", len(sig))
	}

	// Normalise the recovery byte for go-ethereum, which wants v in {0,1}.
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, fmt.Errorf("crypto/verifier: invalid recovery byte %d", sig[64])
	}
	normalised := make([]byte, 65)
	copy(normalised, sig[:64])
	normalised[64] = v

	digest := personalHash(message)
	pub, err := ethcrypto.SigToPub(digest, normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/verifier: recovering public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifySigner reports whether signatureHex over message was produced by
// expected.
func VerifySigner(expected common.Address, message []byte, signatureHex string) bool {
	got, err := RecoverSigner(message, signatureHex)
	if err != nil {
		return false
	}
	return got == expected
}

// personalHash applies the EIP-191 personal-sign envelope:
//
//	keccak256("\x19Ethereum Signed Message:\n" || len(message) || message)
func personalHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256([]byte(prefix), message)
}
