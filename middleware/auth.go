// Package middleware establishes the caller identity for mutating calls.
// Callers are wallet-style identities: each mutating request carries an
// ECDSA signature over the request body, and the recovered address becomes
// the caller for the operation.
package middleware

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/apex/log"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
)

const (
	SignatureHeader = "X-Signature"
	CallerHeader    = "X-Caller"
	callerKey       = "caller"
)

// SignDigest is the message signed to authenticate a request body.
func SignDigest(body []byte) []byte {
	return crypto.Keccak256([]byte("foodsafety:"), body)
}

// SignBody produces the X-Signature header value for a request body.
func SignBody(body []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(SignDigest(body), key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// SignatureAuth verifies the body signature and stores the recovered caller
// address in the request context.
func SignatureAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		sigHex := strings.TrimPrefix(c.GetHeader(SignatureHeader), "0x")
		if sigHex == "" {
			log.Warnf("Missing %s header from %s", SignatureHeader, c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing signature"})
			return
		}

		sig, err := hex.DecodeString(sigHex)
		if err != nil || len(sig) != crypto.SignatureLength {
			log.Warnf("Malformed signature from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed signature"})
			return
		}
		// Accept legacy 27/28 recovery ids.
		if sig[crypto.RecoveryIDOffset] >= 27 {
			sig[crypto.RecoveryIDOffset] -= 27
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		pub, err := crypto.SigToPub(SignDigest(body), sig)
		if err != nil {
			log.Warnf("Signature recovery failed from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		caller := crypto.PubkeyToAddress(*pub)

		// A declared caller must match the recovered one; a mismatch means
		// the body or the signature was tampered with.
		if declared := c.GetHeader(CallerHeader); declared != "" &&
			ethcommon.HexToAddress(declared) != caller {
			log.Warnf("Caller mismatch from %s: declared %s, recovered %s", c.ClientIP(), declared, caller.Hex())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "caller does not match signature"})
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// Caller returns the authenticated caller identity set by SignatureAuth.
func Caller(c *gin.Context) (ethcommon.Address, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return ethcommon.Address{}, false
	}
	addr, ok := v.(ethcommon.Address)
	return addr, ok
}
