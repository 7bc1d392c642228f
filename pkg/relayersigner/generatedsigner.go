package relayersigner

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// The GeneratedSigner is a signer that is intended for use in tests and devnet
// mode. It uses the private key supplied to GenerateSignerWithPrivatekeyUnsafe,
// or defaults to generating a random private key if no key is supplied.
type GeneratedSigner struct {
	privateKey *ecdsa.PrivateKey
}

func NewGeneratedSigner(key *ecdsa.PrivateKey) (*GeneratedSigner, error) {
	if key == nil {
		privateKey, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
		return &GeneratedSigner{privateKey: privateKey}, err
	}
	return &GeneratedSigner{privateKey: key}, nil
}

func (gs *GeneratedSigner) Sign(digest []byte) (sig []byte, err error) {
	sig, err = ethcrypto.Sign(digest, gs.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return sig, nil
}

func (gs *GeneratedSigner) PublicKey() (pubKey ecdsa.PublicKey) {
	return gs.privateKey.PublicKey
}

func (gs *GeneratedSigner) Verify(sig []byte, digest []byte) (valid bool, err error) {
	recoveredPubKey, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, err
	}

	gsPubkey := gs.privateKey.Public()

	return recoveredPubKey.Equal(gsPubkey), nil
}

// WARNING: DO NOT USE THIS SIGNER OUTSIDE OF TESTS OR DEVNET MODE
//
// The caller can specify a private key to be used, or pass nil to have
// NewGeneratedSigner generate a random private key.
func GenerateSignerWithPrivatekeyUnsafe(key *ecdsa.PrivateKey) (RelayerSigner, error) {
	return NewGeneratedSigner(key)
}
