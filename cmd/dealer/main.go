// Command dealer runs a one-time trusted-dealer ceremony for a committee of
// n authorities: it generates n secp256k1 signing keys, deals a (t,n)
// threshold BLS key set, and prints everything an operator needs to fill in
// each authority's .env before starting cmd/node in non-devnet mode:
// generate and print, the operator copies it out.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/epochbft/epochbft/pkg/tcrypto"
)

func main() {
	n := flag.Int("n", 4, "committee size")
	t := flag.Int("t", 0, "threshold (minimum shares to combine); defaults to the coin threshold ceil((n+1)/3)")
	flag.Parse()

	threshold := *t
	if threshold <= 0 {
		threshold = (*n + 3) / 3
	}

	keySet, err := tcrypto.DealThresholdKeys(*n, threshold)
	if err != nil {
		fmt.Fprintln(os.Stderr, "deal threshold keys:", err)
		os.Exit(1)
	}
	pubKeyHex, err := keySet.PublicKeySet().Hex()
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal public key set:", err)
		os.Exit(1)
	}

	var committee []string
	type authority struct {
		address    string
		privateKey string
		shareHex   string
	}
	var authorities []authority

	for i := 0; i < *n; i++ {
		signer, err := tcrypto.GenerateKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate key:", err)
			os.Exit(1)
		}
		shareHex, err := keySet.ShareSigner(i).Hex()
		if err != nil {
			fmt.Fprintln(os.Stderr, "marshal share:", err)
			os.Exit(1)
		}
		committee = append(committee, fmt.Sprintf("%s:1", signer.Address().Hex()))
		authorities = append(authorities, authority{
			address:    signer.Address().Hex(),
			privateKey: signer.PrivateKeyHex(),
			shareHex:   shareHex,
		})
	}

	fmt.Printf("# shared by every authority\n")
	fmt.Printf("COMMITTEE=%s\n", joinComma(committee))
	fmt.Printf("THRESHOLD_PUBLIC_KEY_HEX=%s\n\n", pubKeyHex)

	for i, a := range authorities {
		fmt.Printf("# authority %d (%s) — keep this section private to that operator\n", i, a.address)
		fmt.Printf("SELF_PRIVATE_KEY=%s\n", a.privateKey)
		fmt.Printf("THRESHOLD_SHARE_HEX=%s\n\n", a.shareHex)
	}
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
