package crypto

import (
	"encoding/hex"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func signPersonal(t *testing.T, keyHex string, message []byte) string {
	t.Helper()
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := ethcrypto.Sign(personalHash(message), pk)
	if err != nil {
		t.Fatal(err)
	}
	return "0x" + hex.EncodeToString(sig)
}

func TestRecoverSigner(t *testing.T) {
	const keyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatal(err)
	}
	want := ethcrypto.PubkeyToAddress(pk.PublicKey)
	message := []byte("buy:42:side_a:1000000000000000000")

	sigHex := signPersonal(t, keyHex, message)
	got, err := RecoverSigner(message, sigHex)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("recovered %s, want %s", got.Hex(), want.Hex())
	}

	t.Run("wallet-style recovery byte", func(t *testing.T) {
		raw, _ := hex.DecodeString(sigHex[2:])
		raw[64] += 27
		got, err := RecoverSigner(message, "0x"+hex.EncodeToString(raw))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("recovered %s, want %s", got.Hex(), want.Hex())
		}
	})

	t.Run("verify helper", func(t *testing.T) {
		if !VerifySigner(want, message, sigHex) {
			t.Error("valid signature rejected")
		}
		if VerifySigner(want, []byte("tampered"), sigHex) {
			t.Error("signature over different message accepted")
		}
	})

	t.Run("malformed signatures", func(t *testing.T) {
		if _, err := RecoverSigner(message, "0xzz"); err == nil {
			t.Error("bad hex accepted")
		}
		if _, err := RecoverSigner(message, "0xabcd"); err == nil {
			t.Error("short signature accepted")
		}
	})
}

func TestKeyRoundTrip(t *testing.T) {
	const keyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	blob, err := EncryptKey(keyHex, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if got != keyHex {
		t.Errorf("decrypted %s, want %s", got, keyHex)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("wrong password accepted")
	}
}

func TestAddressOfKey(t *testing.T) {
	const keyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	pk, _ := ethcrypto.HexToECDSA(keyHex)
	want := ethcrypto.PubkeyToAddress(pk.PublicKey)

	got, err := AddressOfKey("0x" + keyHex)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %s, want %s", got.Hex(), want.Hex())
	}
	if _, err := AddressOfKey("not-hex"); err == nil {
		t.Error("invalid key accepted")
	}
}
