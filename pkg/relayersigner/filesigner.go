package relayersigner

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// FileSigner reads a hex-encoded secp256k1 private key from disk. The key file
// must hold exactly the 64 hex characters of the key, optionally prefixed with
// "0x" and followed by a trailing newline.
type FileSigner struct {
	keyPath    string
	privateKey *ecdsa.PrivateKey
}

func NewFileSigner(unsafeDevMode bool, signerKeyPath string) (*FileSigner, error) {
	fileSigner := &FileSigner{
		keyPath: signerKeyPath,
	}

	b, err := os.ReadFile(signerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	keyHex := strings.TrimSpace(string(b))
	keyHex = strings.TrimPrefix(keyHex, "0x")

	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}

	fileSigner.privateKey = key
	return fileSigner, nil
}

func (fs *FileSigner) Sign(digest []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest, fs.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return sig, nil
}

func (fs *FileSigner) PublicKey() ecdsa.PublicKey {
	return fs.privateKey.PublicKey
}

func (fs *FileSigner) Verify(sig []byte, digest []byte) (bool, error) {
	recoveredPubKey, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, err
	}

	// Need to use fs.privateKey.Public() instead of PublicKey to ensure
	// the returned public key has the right interface for Equal() to work.
	fsPubkey := fs.privateKey.Public()

	return recoveredPubKey.Equal(fsPubkey), nil
}
