package confidential

import (
	"errors"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"foodsafety/models"
)

// 512-bit keys keep the test fast; production uses 1024+.
const testKeyBits = 512

func newTestCipher(t *testing.T, authorized ...ethcommon.Address) *Paillier {
	t.Helper()
	p, err := GeneratePaillier(testKeyBits, func(addr ethcommon.Address) bool {
		for _, a := range authorized {
			if a == addr {
				return true
			}
		}
		return false
	})
	if err != nil {
		t.Fatalf("GeneratePaillier: %v", err)
	}
	return p
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	cipher := newTestCipher(t, addr)

	for _, value := range []uint64{0, 1, 4, 123456789} {
		ct, err := cipher.Encrypt(value)
		if err != nil {
			t.Fatalf("Encrypt(%d): %v", value, err)
		}
		proof, err := SignDecryption(ct, key)
		if err != nil {
			t.Fatalf("SignDecryption: %v", err)
		}
		got, err := cipher.Decrypt(ct, proof)
		if err != nil {
			t.Fatalf("Decrypt(%d): %v", value, err)
		}
		if got != value {
			t.Errorf("round trip gave %d, want %d", got, value)
		}
	}
}

func TestHomomorphicAdd(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cipher := newTestCipher(t, crypto.PubkeyToAddress(key.PublicKey))

	a, err := cipher.Encrypt(3)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cipher.Encrypt(4)
	if err != nil {
		t.Fatal(err)
	}

	sum, err := cipher.Add(a, b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	proof, err := SignDecryption(sum, key)
	if err != nil {
		t.Fatal(err)
	}
	got, err := cipher.Decrypt(sum, proof)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != 7 {
		t.Errorf("Decrypt(Add(E(3), E(4))) = %d, want 7", got)
	}
}

func TestDecryptRejectsUnauthorizedProof(t *testing.T) {
	ownerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	strangerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cipher := newTestCipher(t, crypto.PubkeyToAddress(ownerKey.PublicKey))

	ct, err := cipher.Encrypt(42)
	if err != nil {
		t.Fatal(err)
	}
	proof, err := SignDecryption(ct, strangerKey)
	if err != nil {
		t.Fatal(err)
	}

	_, err = cipher.Decrypt(ct, proof)
	var authzErr *models.AuthorizationError
	if !errors.As(err, &authzErr) {
		t.Errorf("Decrypt with stranger proof = %v, want AuthorizationError", err)
	}
}

func TestDecryptRejectsGarbageCiphertext(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cipher := newTestCipher(t, crypto.PubkeyToAddress(key.PublicKey))

	proof, err := SignDecryption(nil, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cipher.Decrypt(nil, proof); err == nil {
		t.Error("Decrypt accepted an empty ciphertext")
	}
}
