package bridged

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// KeygenCmd creates a relayer key file loadable through the file:// signer URI.
var KeygenCmd = &cobra.Command{
	Use:   "keygen [KEYFILE]",
	Short: "Create relayer key at the specified path",
	Run:   runKeygen,
	Args:  cobra.ExactArgs(1),
}

func runKeygen(cmd *cobra.Command, args []string) {
	log.Print("Creating new key at ", args[0])

	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	encoded := hex.EncodeToString(ethcrypto.FromECDSA(key))
	if err := os.WriteFile(args[0], []byte(encoded+"\n"), 0o600); err != nil {
		log.Fatalf("failed to write key: %v", err)
	}

	log.Print("Relayer address: ", ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
}
