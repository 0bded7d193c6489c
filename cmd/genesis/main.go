package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smart-protocol/smart/config"
	"github.com/smart-protocol/smart/internal/node"
)

func main() {
	holders := flag.Int("holders", 10, "Number of token holders")
	amount := flag.String("amount", "1000000000000000000000", "Token allocation per holder, in base units")
	payment := flag.String("payment", "1000000000000", "Payment asset balance of the funder, in base units")
	out := flag.String("out", "storage/genesis.json", "Genesis output file")
	addrOut := flag.String("addresses", "storage/address.txt", "Holder address list output file")
	flag.Parse()

	admin := deriveAddress("smart-admin")
	if cfg, err := config.LoadDefault(); err == nil {
		if mint := cfg.Roles["mint"]; len(mint) > 0 && common.IsHexAddress(mint[0]) {
			admin = common.HexToAddress(mint[0])
		}
	} else {
		log.Printf("[Genesis] No usable config (%v), admin is %s", err, admin.Hex())
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0755); err != nil {
		log.Fatal(err)
	}

	addresses := GenerateAddresses(*holders)
	if err := WriteAddresses(*addrOut, addresses); err != nil {
		log.Fatal(err)
	}

	g := &node.Genesis{
		Admin:   admin,
		Payment: []node.Allocation{{Address: deriveAddress("smart-funder"), Amount: *payment}},
	}
	for _, addr := range addresses {
		g.Allocations = append(g.Allocations, node.Allocation{Address: addr, Amount: *amount})
	}
	if err := g.Save(*out); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Wrote %d allocations to %s (admin %s)\n", len(g.Allocations), *out, admin.Hex())
}

// deriveAddress maps a seed to a deterministic address
func deriveAddress(seed string) common.Address {
	hash := sha256.Sum256([]byte(seed))
	return common.BytesToAddress(hash[:])
}

// GenerateAddresses returns n deterministic holder addresses
func GenerateAddresses(n int) []common.Address {
	addrs := make([]common.Address, n)
	for i := range addrs {
		addrs[i] = deriveAddress(fmt.Sprintf("smart-holder-%d", i))
	}
	return addrs
}

func WriteAddresses(path string, addrs []common.Address) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, addr := range addrs {
		if _, err := fmt.Fprintln(file, addr.Hex()); err != nil {
			return err
		}
	}
	return nil
}
