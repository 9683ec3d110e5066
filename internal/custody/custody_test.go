package custody

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/blues/cfledger/internal/registry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	contributor   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	campaignOwner = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testChainID   = big.NewInt(11155111)
)

func pay(amount int64) registry.Payment {
	return registry.Payment{Amount: big.NewInt(amount)}
}

func TestVault_DepositAndRelease(t *testing.T) {
	ctx := context.Background()
	v := NewVault()

	if err := v.Deposit(ctx, 1, contributor, pay(10)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := v.Deposit(ctx, 1, contributor, pay(10)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if got := v.Balance(1); got.Int64() != 20 {
		t.Fatalf("expected balance 20, got %s", got)
	}

	if err := v.Release(ctx, 1, campaignOwner, big.NewInt(25)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := v.Release(ctx, 2, campaignOwner, big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("unknown campaign: expected ErrInsufficientFunds, got %v", err)
	}
	if err := v.Release(ctx, 1, campaignOwner, big.NewInt(20)); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := v.Balance(1); got.Sign() != 0 {
		t.Errorf("expected empty balance, got %s", got)
	}
}

func TestVault_RejectsNonPositiveDeposit(t *testing.T) {
	v := NewVault()
	if err := v.Deposit(context.Background(), 0, contributor, pay(0)); err == nil {
		t.Error("expected error for zero deposit")
	}
}

func TestVault_Reverse(t *testing.T) {
	ctx := context.Background()
	v := NewVault()

	_ = v.Deposit(ctx, 4, contributor, pay(30))
	_ = v.Deposit(ctx, 4, contributor, pay(30))
	v.Reverse(4, big.NewInt(30))
	if got := v.Balance(4); got.Int64() != 30 {
		t.Errorf("expected 30 after reverse, got %s", got)
	}
}

func TestVault_Restore(t *testing.T) {
	v := NewVault()
	v.Restore(3, big.NewInt(42))
	if got := v.Balance(3); got.Int64() != 42 {
		t.Errorf("expected 42, got %s", got)
	}
}

type fakeBackend struct {
	nonce    uint64
	sent     []*types.Transaction
	sendErr  error
	status   uint64
	txs      map[common.Hash]*types.Transaction
	statuses map[common.Hash]uint64
	unmined  bool // 发出的交易一直拿不到回执
}

func (f *fakeBackend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

// mine 记录一笔已上链的交易
func (f *fakeBackend) mine(tx *types.Transaction, status uint64) common.Hash {
	if f.txs == nil {
		f.txs = make(map[common.Hash]*types.Transaction)
		f.statuses = make(map[common.Hash]uint64)
	}
	f.txs[tx.Hash()] = tx
	f.statuses[tx.Hash()] = status
	return tx.Hash()
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.unmined {
		return nil, ethereum.NotFound
	}
	if status, ok := f.statuses[txHash]; ok {
		return &types.Receipt{TxHash: txHash, Status: status}, nil
	}
	return &types.Receipt{TxHash: txHash, Status: f.status}, nil
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func newTestEthCustody(t *testing.T, backend *fakeBackend, waitMined bool) *EthCustody {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return NewEthCustody(backend, key, testChainID, NewVault(), waitMined)
}

// signedTransfer 由 key 签名的一笔普通转账
func signedTransfer(t *testing.T, key *ecdsa.PrivateKey, to common.Address, value int64) *types.Transaction {
	t.Helper()
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		To:       &to,
		Value:    big.NewInt(value),
		Gas:      transferGasLimit,
		GasPrice: big.NewInt(1),
	}), types.LatestSignerForChainID(testChainID), key)
	if err != nil {
		t.Fatalf("SignTx: %v", err)
	}
	return tx
}

// fundedCustody 返回链上托管，以及贡献者向托管账户转入 amount 的交易哈希
func fundedCustody(t *testing.T, backend *fakeBackend, amount int64) (*EthCustody, common.Address, common.Hash) {
	t.Helper()
	c := newTestEthCustody(t, backend, true)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	hash := backend.mine(signedTransfer(t, key, c.Address(), amount), types.ReceiptStatusSuccessful)
	return c, crypto.PubkeyToAddress(key.PublicKey), hash
}

func TestEthCustody_DepositVerifiesTransfer(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful}
	c, from, hash := fundedCustody(t, backend, 500)

	if err := c.Deposit(ctx, 0, from, registry.Payment{Amount: big.NewInt(500), TxHash: hash}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if got := c.vault.Balance(0); got.Int64() != 500 {
		t.Errorf("expected balance 500, got %s", got)
	}
}

func TestEthCustody_DepositRejectsUnmatchedTransfer(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful}
	c, from, hash := fundedCustody(t, backend, 500)

	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	elsewhere := backend.mine(signedTransfer(t, otherKey, campaignOwner, 500), types.ReceiptStatusSuccessful)
	fromOther := backend.mine(signedTransfer(t, otherKey, c.Address(), 500), types.ReceiptStatusSuccessful)

	failedKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	failed := backend.mine(signedTransfer(t, failedKey, c.Address(), 500), types.ReceiptStatusFailed)

	cases := []struct {
		name    string
		from    common.Address
		payment registry.Payment
	}{
		{"no transaction hash", from, registry.Payment{Amount: big.NewInt(500)}},
		{"unknown transaction", from, registry.Payment{Amount: big.NewInt(500), TxHash: common.HexToHash("0x01")}},
		{"wrong value", from, registry.Payment{Amount: big.NewInt(400), TxHash: hash}},
		{"wrong sender", contributor, registry.Payment{Amount: big.NewInt(500), TxHash: hash}},
		{"not paid to custody", crypto.PubkeyToAddress(otherKey.PublicKey), registry.Payment{Amount: big.NewInt(500), TxHash: elsewhere}},
		{"sender is not contributor", from, registry.Payment{Amount: big.NewInt(500), TxHash: fromOther}},
		{"failed on chain", crypto.PubkeyToAddress(failedKey.PublicKey), registry.Payment{Amount: big.NewInt(500), TxHash: failed}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Deposit(ctx, 0, tc.from, tc.payment)
			if !errors.Is(err, registry.ErrPaymentRejected) {
				t.Errorf("expected ErrPaymentRejected, got %v", err)
			}
		})
	}
	if got := c.vault.Balance(0); got.Sign() != 0 {
		t.Errorf("rejected deposits must not credit custody, got %s", got)
	}
}

func TestEthCustody_ReleaseSendsSignedTransfer(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{nonce: 7, status: types.ReceiptStatusSuccessful}
	c, from, hash := fundedCustody(t, backend, 500)

	if err := c.Deposit(ctx, 0, from, registry.Payment{Amount: big.NewInt(500), TxHash: hash}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := c.Release(ctx, 0, campaignOwner, big.NewInt(500)); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if len(backend.sent) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if *tx.To() != campaignOwner || tx.Value().Int64() != 500 || tx.Nonce() != 7 || tx.Gas() != transferGasLimit {
		t.Errorf("unexpected transaction fields: to=%s value=%s nonce=%d gas=%d", tx.To().Hex(), tx.Value(), tx.Nonce(), tx.Gas())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(testChainID), tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != c.Address() {
		t.Errorf("expected sender %s, got %s", c.Address().Hex(), sender.Hex())
	}
	if c.vault.Balance(0).Sign() != 0 {
		t.Error("expected vault balance to be debited")
	}
}

func TestEthCustody_SendFailureRestoresBalance(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{sendErr: errors.New("nonce too low")}
	c := newTestEthCustody(t, backend, false)

	c.vault.Restore(0, big.NewInt(500))
	if err := c.Release(ctx, 0, campaignOwner, big.NewInt(500)); err == nil {
		t.Fatal("expected send failure")
	}
	if got := c.vault.Balance(0); got.Int64() != 500 {
		t.Errorf("expected balance restored to 500, got %s", got)
	}
}

func TestEthCustody_RevertedTransferRestoresBalance(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{status: types.ReceiptStatusFailed}
	c := newTestEthCustody(t, backend, true)

	c.vault.Restore(0, big.NewInt(500))
	if err := c.Release(ctx, 0, campaignOwner, big.NewInt(500)); err == nil {
		t.Fatal("expected reverted transfer to fail")
	}
	if got := c.vault.Balance(0); got.Int64() != 500 {
		t.Errorf("expected balance restored to 500, got %s", got)
	}
}

func TestEthCustody_UnconfirmedTransferKeepsBalanceDebited(t *testing.T) {
	backend := &fakeBackend{unmined: true}
	c := newTestEthCustody(t, backend, true)
	c.vault.Restore(0, big.NewInt(500))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Release(ctx, 0, campaignOwner, big.NewInt(500)); err != nil {
		t.Fatalf("broadcast transfer must count as released, got %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(backend.sent))
	}
	if got := c.vault.Balance(0); got.Sign() != 0 {
		t.Errorf("expected balance to stay debited, got %s", got)
	}
}

func TestDialEthCustody_InvalidKey(t *testing.T) {
	_, err := DialEthCustody(EthConfig{RpcUrl: "http://127.0.0.1:8545", PrivateKey: "not-a-key"}, NewVault())
	if err == nil {
		t.Fatal("expected private key parse error")
	}
}
