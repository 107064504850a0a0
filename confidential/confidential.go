// Package confidential provides the encrypted-integer capability used to
// store and combine protected fields without plaintext exposure. The state
// machine takes it as an injected Cipher; a nil Cipher means confidentiality
// is disabled.
package confidential

import (
	"crypto/ecdsa"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Ciphertext is an opaque encrypted integer.
type Ciphertext []byte

// AuthorizationProof authorizes a decryption. The signature is an ECDSA
// signature over DecryptDigest(ct); the recovered address must pass the
// cipher's authorization predicate.
type AuthorizationProof struct {
	Signature []byte `json:"signature"`
}

type Cipher interface {
	Encrypt(value uint64) (Ciphertext, error)
	// Add combines two ciphertexts homomorphically: Decrypt(Add(a, b))
	// equals Decrypt(a) + Decrypt(b).
	Add(a, b Ciphertext) (Ciphertext, error)
	Decrypt(ct Ciphertext, proof AuthorizationProof) (uint64, error)
}

// DecryptDigest is the message a caller signs to authorize decrypting ct.
func DecryptDigest(ct Ciphertext) []byte {
	return crypto.Keccak256([]byte("foodsafety-decrypt:"), ct)
}

// SignDecryption builds an authorization proof for ct with the given key.
func SignDecryption(ct Ciphertext, key *ecdsa.PrivateKey) (AuthorizationProof, error) {
	sig, err := crypto.Sign(DecryptDigest(ct), key)
	if err != nil {
		return AuthorizationProof{}, err
	}
	return AuthorizationProof{Signature: sig}, nil
}

// RecoverSigner recovers the address that produced the proof for ct.
func RecoverSigner(ct Ciphertext, proof AuthorizationProof) (ethcommon.Address, error) {
	pub, err := crypto.SigToPub(DecryptDigest(ct), proof.Signature)
	if err != nil {
		return ethcommon.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
