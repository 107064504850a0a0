package confidential

import (
	"crypto/rand"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"foodsafety/models"
)

var one = big.NewInt(1)

// Paillier is an additively homomorphic cipher over math/big. Decryption is
// gated by an authorization predicate over the proof signer's address.
type Paillier struct {
	n, n2, g  *big.Int
	lambda    *big.Int
	mu        *big.Int
	authorize func(ethcommon.Address) bool
}

// GeneratePaillier creates a fresh keypair. The authorize predicate decides
// which recovered signer addresses may decrypt.
func GeneratePaillier(bits int, authorize func(ethcommon.Address) bool) (*Paillier, error) {
	if bits < 256 {
		return nil, fmt.Errorf("paillier key size %d too small", bits)
	}
	if authorize == nil {
		return nil, fmt.Errorf("paillier requires an authorization predicate")
	}

	p, err := rand.Prime(rand.Reader, bits/2)
	if err != nil {
		return nil, fmt.Errorf("generating prime: %w", err)
	}
	q, err := rand.Prime(rand.Reader, bits/2)
	if err != nil {
		return nil, fmt.Errorf("generating prime: %w", err)
	}
	if p.Cmp(q) == 0 {
		return nil, fmt.Errorf("degenerate paillier key, retry")
	}

	n := new(big.Int).Mul(p, q)
	n2 := new(big.Int).Mul(n, n)
	g := new(big.Int).Add(n, one)

	pm1 := new(big.Int).Sub(p, one)
	qm1 := new(big.Int).Sub(q, one)
	lambda := new(big.Int).Div(new(big.Int).Mul(pm1, qm1), new(big.Int).GCD(nil, nil, pm1, qm1))

	// mu = (L(g^lambda mod n^2))^-1 mod n
	u := new(big.Int).Exp(g, lambda, n2)
	mu := new(big.Int).ModInverse(lFunc(u, n), n)
	if mu == nil {
		return nil, fmt.Errorf("degenerate paillier key, retry")
	}

	return &Paillier{n: n, n2: n2, g: g, lambda: lambda, mu: mu, authorize: authorize}, nil
}

func lFunc(x, n *big.Int) *big.Int {
	return new(big.Int).Div(new(big.Int).Sub(x, one), n)
}

func (p *Paillier) Encrypt(value uint64) (Ciphertext, error) {
	m := new(big.Int).SetUint64(value)
	if m.Cmp(p.n) >= 0 {
		return nil, models.NewValidationError("plaintext exceeds paillier modulus")
	}

	// r in [1, n) with gcd(r, n) = 1
	var r *big.Int
	for {
		var err error
		r, err = rand.Int(rand.Reader, p.n)
		if err != nil {
			return nil, err
		}
		if r.Sign() > 0 && new(big.Int).GCD(nil, nil, r, p.n).Cmp(one) == 0 {
			break
		}
	}

	// c = g^m * r^n mod n^2
	gm := new(big.Int).Exp(p.g, m, p.n2)
	rn := new(big.Int).Exp(r, p.n, p.n2)
	c := new(big.Int).Mod(new(big.Int).Mul(gm, rn), p.n2)
	return c.Bytes(), nil
}

func (p *Paillier) Add(a, b Ciphertext) (Ciphertext, error) {
	ca, err := p.parse(a)
	if err != nil {
		return nil, err
	}
	cb, err := p.parse(b)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mod(new(big.Int).Mul(ca, cb), p.n2).Bytes(), nil
}

func (p *Paillier) Decrypt(ct Ciphertext, proof AuthorizationProof) (uint64, error) {
	signer, err := RecoverSigner(ct, proof)
	if err != nil {
		return 0, models.NewAuthorizationError(fmt.Sprintf("invalid decryption proof: %v", err))
	}
	if !p.authorize(signer) {
		return 0, models.NewAuthorizationError(fmt.Sprintf("%s is not authorized to decrypt", signer.Hex()))
	}

	c, err := p.parse(ct)
	if err != nil {
		return 0, err
	}
	// m = L(c^lambda mod n^2) * mu mod n
	u := new(big.Int).Exp(c, p.lambda, p.n2)
	m := new(big.Int).Mod(new(big.Int).Mul(lFunc(u, p.n), p.mu), p.n)
	if !m.IsUint64() {
		return 0, models.NewValidationError("decrypted value out of range")
	}
	return m.Uint64(), nil
}

func (p *Paillier) parse(ct Ciphertext) (*big.Int, error) {
	if len(ct) == 0 {
		return nil, models.NewValidationError("empty ciphertext")
	}
	c := new(big.Int).SetBytes(ct)
	if c.Cmp(p.n2) >= 0 {
		return nil, models.NewValidationError("ciphertext outside key range")
	}
	return c, nil
}
