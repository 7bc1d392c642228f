package relayersigner

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// The types of relayer signers that are supported
type SignerType int

const (
	InvalidSignerType SignerType = iota
	// file://<path-to-hex-key-file>
	FileSignerType
)

// RelayerSigner abstracts the key that authorizes issuance on the destination
// ledger. The issuer only ever sees an address and a Verify capability, so the
// single-key trust model can be swapped for a threshold or rotating scheme
// without touching the mint pipeline.
type RelayerSigner interface {
	// Sign expects a keccak256 digest that needs to be signed.
	Sign(digest []byte) (sig []byte, err error)
	// PublicKey returns the ECDSA public key of the signer. Note that this should not
	// be confused with the ledger address.
	PublicKey() (pubKey ecdsa.PublicKey)
	// Verify is a convenience function that recovers a public key from the sig/digest
	// pair, and checks if the public key matches that of the relayer signer.
	Verify(sig []byte, digest []byte) (valid bool, err error)
}

// NewRelayerSignerFromUri constructs a signer from a URI of the form
// <scheme>://<config>.
func NewRelayerSignerFromUri(signerUri string, unsafeDevMode bool) (RelayerSigner, error) {
	signerType, signerKeyConfig := ParseSignerUri(signerUri)

	switch signerType {
	case FileSignerType:
		return NewFileSigner(unsafeDevMode, signerKeyConfig)
	default:
		return nil, fmt.Errorf("unsupported relayer signer type")
	}
}

func ParseSignerUri(signerUri string) (signerType SignerType, signerKeyConfig string) {
	// Split the URI using the standard "://" scheme separator
	signerUriSplit := strings.Split(signerUri, "://")

	// This check is purely for ensuring that there is actually a path separator.
	if len(signerUriSplit) < 2 {
		return InvalidSignerType, ""
	}

	typeStr := signerUriSplit[0]
	// Rejoin the remainder of the split URI as the configuration for the signer
	// implementation.
	keyConfig := strings.Join(signerUriSplit[1:], "://")

	switch typeStr {
	case "file":
		return FileSignerType, keyConfig
	default:
		return InvalidSignerType, ""
	}
}

// Address returns the 20-byte ledger address of the signer's public key. This
// is the value registered as the trusted relayer on the issuer.
func Address(signer RelayerSigner) common.Address {
	pubKey := signer.PublicKey()
	return ethcrypto.PubkeyToAddress(pubKey)
}
