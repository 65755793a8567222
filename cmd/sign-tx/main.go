// Command sign-tx builds an exchange transaction, signs it with EIP-712 and
// prints the JSON body for POST /api/v1/tx. With -submit it posts it too.
//
//	sign-tx -key 0x... -type create_order -amount 100 -price 1000 -token 0x... -nonce 1
//	sign-tx -key 0x... -type fill_order -order 1 -amount 50 -nonce 1 -submit http://localhost:8080
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/params"
	"github.com/uhyunpark/creditswap/pkg/app/core/transaction"
	"github.com/uhyunpark/creditswap/pkg/crypto"
)

func main() {
	var (
		keyHex  = flag.String("key", "", "hex private key; a new key is generated when empty")
		txType  = flag.String("type", "create_order", "create_order|cancel_order|fill_order|set_admin|pause|unpause|withdraw_fees")
		orderID = flag.Uint64("order", 0, "order id (cancel_order, fill_order)")
		amount  = flag.Int64("amount", 0, "credits to list or fill, or fee amount to withdraw")
		price   = flag.Int64("price", 0, "price per credit in native units (create_order)")
		token   = flag.String("token", "", "credit token contract (create_order)")
		target  = flag.String("target", "", "new admin (set_admin) or fee recipient (withdraw_fees)")
		nonce   = flag.Uint64("nonce", 1, "sender nonce, strictly increasing")
		chainID = flag.Int64("chain-id", 1337, "chain id of the node")
		custody = flag.String("custody", params.DefaultCustody.Hex(), "custody address of the node")
		submit  = flag.String("submit", "", "node API base URL to submit to, e.g. http://localhost:8080")
	)
	flag.Parse()

	if err := run(*keyHex, *txType, *orderID, *amount, *price, *token, *target, *nonce, *chainID, *custody, *submit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(keyHex, txType string, orderID uint64, amount, price int64, token, target string, nonce uint64, chainID int64, custody, submit string) error {
	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if keyHex == "" {
		signer, err = crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Generated key %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	} else if signer, err = crypto.FromPrivateKeyHex(keyHex); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Sender: %s\n", signer.Address().Hex())

	if !common.IsHexAddress(custody) {
		return fmt.Errorf("invalid custody address %q", custody)
	}
	domain := crypto.NewDomain(chainID, common.HexToAddress(custody))
	eip712Signer := crypto.NewEIP712Signer(domain)

	// Step 2: Build and sign
	tx := &transaction.SignedTransaction{
		Type:    transaction.TxType(txType),
		OrderID: orderID,
		Amount:  amount,
		Price:   price,
		Token:   token,
		Target:  target,
		Nonce:   nonce,
	}
	if err := transaction.Sign(tx, signer, eip712Signer); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return err
	}

	// Step 3: Verify before printing
	recovered, err := transaction.NewVerifier(domain).Verify(tx)
	if err != nil {
		return fmt.Errorf("self-verification failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Signature valid, signer %s, tx hash %s\n", recovered.Hex(), tx.Hash().Hex())

	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(txJSON))

	if submit == "" {
		return nil
	}

	// Step 4: Submit to the node
	body, _ := tx.Serialize()
	url := strings.TrimRight(submit, "/") + "/api/v1/tx"
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(os.Stderr, "POST %s -> %s\n%s", url, resp.Status, out)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("node rejected transaction")
	}
	return nil
}
