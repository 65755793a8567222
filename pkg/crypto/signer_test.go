package crypto

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("credits"))

	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Error("signature verification failed")
	}

	// Wallet-style V
	walletSig := append([]byte(nil), sig...)
	walletSig[64] += 27
	addr, err := RecoverAddress(hash, walletSig)
	if err != nil || addr != signer.Address() {
		t.Errorf("wallet signature: got %s, %v", addr.Hex(), err)
	}

	wrong := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrong, hash, sig) {
		t.Error("signature should not verify with wrong address")
	}
	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("short signature should not verify")
	}
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestKeccak256MatchesGeth(t *testing.T) {
	a, b := []byte("credit"), []byte("swap")
	got := Keccak256(a, b)
	want := eth_crypto.Keccak256Hash(append(append([]byte{}, a...), b...))
	if got != want {
		t.Errorf("Keccak256 = %s, want %s", got.Hex(), want.Hex())
	}
}

func testAction(sender common.Address) *Action {
	return &Action{
		Type:   "create_order",
		Amount: 100,
		Price:  1000,
		Token:  common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		Nonce:  1,
		Sender: sender,
	}
}

func TestSignAction(t *testing.T) {
	custody := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	e := NewEIP712Signer(NewDomain(1337, custody))
	signer, _ := GenerateKey()
	a := testAction(signer.Address())

	sig, err := e.SignAction(signer, a)
	if err != nil {
		t.Fatalf("SignAction failed: %v", err)
	}
	got, err := e.RecoverActionSigner(a, sig)
	if err != nil {
		t.Fatalf("RecoverActionSigner failed: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	// Any field change moves the digest
	tampered := *a
	tampered.Amount = 101
	if addr, _ := e.RecoverActionSigner(&tampered, sig); addr == signer.Address() {
		t.Error("tampered action recovered the original signer")
	}

	// Another chain or custody is another domain
	other := NewEIP712Signer(NewDomain(1, custody))
	if addr, _ := other.RecoverActionSigner(a, sig); addr == signer.Address() {
		t.Error("signature must not verify in another domain")
	}
}

func TestHashActionNegativeAmount(t *testing.T) {
	e := NewEIP712Signer(NewDomain(1337, common.Address{}))
	a := testAction(common.HexToAddress("0x01"))
	a.Amount = -5
	if _, err := e.HashAction(a); err != nil {
		t.Fatalf("negative amounts must still hash: %v", err)
	}
}

func TestActionToJSON(t *testing.T) {
	e := NewEIP712Signer(NewDomain(1337, common.Address{}))
	out, err := e.ActionToJSON(testAction(common.HexToAddress("0x01")))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["primaryType"] != "Action" {
		t.Errorf("primaryType = %v", decoded["primaryType"])
	}
}
