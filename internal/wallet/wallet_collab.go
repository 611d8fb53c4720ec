package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/jigkernel/internal/backend"
	"github.com/klingon-exchange/jigkernel/internal/chain"
	"github.com/klingon-exchange/jigkernel/internal/collab"
	"github.com/klingon-exchange/jigkernel/internal/lock"
	"github.com/klingon-exchange/jigkernel/internal/storage"
)

// OwnerPurse implements both collab.Owner and collab.Purse against a single
// HD wallet: the same key material assigns fresh P2WPKH locks and co-signs
// a creation's inputs (Owner), and separately selects, signs, and spends its
// own UTXOs to cover the transaction fee (Purse). Grounded on
// wallet/tx.go's BuildAndSignTx P2WPKH signing path and wallet/service.go's
// UTXO-backed send flow, generalized from "build one whole payment tx" to
// "append fee inputs to, and sign owner inputs of, a tx the kernel already
// built."
type OwnerPurse struct {
	wallet  *Wallet
	storage *storage.Storage
	backend backend.Backend
	params  *chain.Params
	account uint32
	feeRate uint64 // sat/vbyte the purse pays at
}

// NewOwnerPurse builds an OwnerPurse for the given chain, using account as
// the HD account index for both owner (external chain) and purse (change
// chain) keys.
func NewOwnerPurse(w *Wallet, s *storage.Storage, b backend.Backend, params *chain.Params, account uint32, feeRate uint64) *OwnerPurse {
	return &OwnerPurse{wallet: w, storage: s, backend: b, params: params, account: account, feeRate: feeRate}
}

func (o *OwnerPurse) chainName() string {
	return o.params.Symbol
}

// NextOwner derives the next unused external address, persists its
// derivation path, and returns its P2WPKH lock descriptor.
func (o *OwnerPurse) NextOwner(ctx context.Context) (collab.Lock, error) {
	const external = 0
	index, err := o.storage.GetNextAddressIndex(o.chainName(), o.account, external)
	if err != nil {
		return nil, fmt.Errorf("wallet: next owner address index: %w", err)
	}

	key, err := o.wallet.DeriveKeyForChainWithChange(o.params.Symbol, o.account, external, index)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving owner key: %w", err)
	}
	pubKey, err := key.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: owner public key: %w", err)
	}

	pubKeyHash := btcutil.Hash160(pubKey.SerializeCompressed())
	l, err := lock.NewP2WPKHLock(pubKeyHash)
	if err != nil {
		return nil, err
	}

	address, err := DeriveAddressFromKey(key, o.params)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving owner address: %w", err)
	}
	if err := o.storage.SaveWalletAddress(&storage.WalletAddress{
		Address:      address,
		Chain:        o.chainName(),
		Account:      o.account,
		Change:       external,
		AddressIndex: index,
		AddressType:  "p2wpkh",
	}); err != nil {
		return nil, fmt.Errorf("wallet: persisting owner address: %w", err)
	}

	return l, nil
}

// keyForLock resolves the private key behind a P2WPKH lock this wallet
// previously handed out via NextOwner, by rederiving the address the lock's
// pubkey hash encodes and looking up its derivation path in storage.
func (o *OwnerPurse) keyForLock(l collab.Lock) (*btcec.PrivateKey, error) {
	p2wpkh, ok := l.(*lock.P2WPKHLock)
	if !ok {
		return nil, fmt.Errorf("wallet: cannot sign for lock kind %T", l)
	}

	netParams := toChainCfgParams(o.params)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(p2wpkh.PubKeyHash[:], netParams)
	if err != nil {
		return nil, fmt.Errorf("wallet: rebuilding address from lock: %w", err)
	}

	record, err := o.storage.GetWalletAddress(addr.EncodeAddress())
	if err != nil {
		return nil, fmt.Errorf("wallet: looking up owner address: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("wallet: no derivation path recorded for lock %s", p2wpkh.String())
	}

	key, err := o.wallet.DeriveKeyForChainWithChange(o.params.Symbol, record.Account, record.Change, record.AddressIndex)
	if err != nil {
		return nil, fmt.Errorf("wallet: rederiving owner key: %w", err)
	}
	return key.ECPrivKey()
}

// Sign co-signs the creation-owned inputs of rawtx, one per lock in order,
// leaving any purse-paid inputs (already signed by Purse.Pay) untouched.
// parents holds the raw parent transaction for every distinct previous
// txid among rawtx's inputs, as fetched by the caller from the Blockchain
// collaborator.
func (o *OwnerPurse) Sign(ctx context.Context, rawtx []byte, parents [][]byte, locks []collab.Lock) ([]byte, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawtx)); err != nil {
		return nil, fmt.Errorf("wallet: parsing tx to sign: %w", err)
	}
	if len(locks) > len(tx.TxIn) {
		return nil, fmt.Errorf("wallet: %d locks for a %d-input tx", len(locks), len(tx.TxIn))
	}

	parentTxs := make(map[chainhash.Hash]*wire.MsgTx, len(parents))
	for _, raw := range parents {
		var parent wire.MsgTx
		if err := parent.Deserialize(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("wallet: parsing parent tx: %w", err)
		}
		parentTxs[parent.TxHash()] = &parent
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(locks))
	for i := range locks {
		outpoint := tx.TxIn[i].PreviousOutPoint
		parent, ok := parentTxs[outpoint.Hash]
		if !ok {
			return nil, fmt.Errorf("wallet: missing parent tx for input %d (%s)", i, outpoint.Hash)
		}
		if int(outpoint.Index) >= len(parent.TxOut) {
			return nil, fmt.Errorf("wallet: parent tx %s has no output %d", outpoint.Hash, outpoint.Index)
		}
		prevOuts[outpoint] = parent.TxOut[outpoint.Index]
	}
	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)

	for i, l := range locks {
		privKey, err := o.keyForLock(l)
		if err != nil {
			return nil, fmt.Errorf("wallet: resolving key for input %d: %w", i, err)
		}
		if err := signP2WPKH(&tx, i, privKey, prevOutFetcher); err != nil {
			return nil, fmt.Errorf("wallet: signing input %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("wallet: serializing signed tx: %w", err)
	}
	return buf.Bytes(), nil
}

// Pay appends fee-paying inputs (and, if warranted, a change output) to
// rawtx, signs the inputs it added, and returns the result. It never touches
// rawtx's existing inputs or outputs, matching Commit.verifyMatchesPartial's
// requirement that only trailing additions are permitted.
func (o *OwnerPurse) Pay(ctx context.Context, rawtx []byte, parents [][]byte) ([]byte, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawtx)); err != nil {
		return nil, fmt.Errorf("wallet: parsing partial tx: %w", err)
	}

	utxos, err := o.storage.GetSpendableUTXOs(o.chainName())
	if err != nil {
		return nil, fmt.Errorf("wallet: loading spendable UTXOs: %w", err)
	}
	if len(utxos) == 0 {
		return nil, fmt.Errorf("wallet: purse has no spendable UTXOs on %s", o.chainName())
	}

	// The loop below greedily adds UTXOs (already sorted by amount
	// descending by GetSpendableUTXOs) until the running total covers the
	// estimated fee for the inputs added so far plus one change output.
	baseSize := tx.SerializeSize()
	var selected []*storage.WalletUTXO
	var totalIn uint64
	for _, u := range utxos {
		selected = append(selected, u)
		totalIn += u.Amount

		estVSize := baseSize + len(selected)*68 + 31
		fee := uint64(estVSize) * o.feeRate
		if totalIn >= fee {
			break
		}
	}

	estVSize := baseSize + len(selected)*68 + 31
	fee := uint64(estVSize) * o.feeRate
	if totalIn < fee {
		return nil, fmt.Errorf("wallet: purse has insufficient funds to cover fees on %s", o.chainName())
	}

	const change = 1
	changeIndex, err := o.storage.GetNextAddressIndex(o.chainName(), o.account, change)
	if err != nil {
		return nil, fmt.Errorf("wallet: next change index: %w", err)
	}
	changeKey, err := o.wallet.DeriveKeyForChainWithChange(o.params.Symbol, o.account, change, changeIndex)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving change key: %w", err)
	}
	changeAddress, err := DeriveAddressFromKey(changeKey, o.params)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving change address: %w", err)
	}
	changeScript, err := ParseAddressToScript(changeAddress, o.params)
	if err != nil {
		return nil, fmt.Errorf("wallet: building change script: %w", err)
	}

	startIn := len(tx.TxIn)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(selected))
	privKeys := make([]*btcec.PrivateKey, len(selected))
	for i, u := range selected {
		txHash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("wallet: invalid purse utxo txid %s: %w", u.TxID, err)
		}
		outpoint := wire.NewOutPoint(txHash, u.Vout)
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2 // enable RBF
		tx.AddTxIn(txIn)

		script, err := hex.DecodeString(u.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("wallet: decoding purse utxo script: %w", err)
		}
		prevOuts[*outpoint] = wire.NewTxOut(int64(u.Amount), script)

		key, err := o.wallet.DeriveKeyForChainWithChange(o.params.Symbol, u.Account, u.Change, u.AddressIndex)
		if err != nil {
			return nil, fmt.Errorf("wallet: deriving purse utxo key: %w", err)
		}
		privKeys[i], err = key.ECPrivKey()
		if err != nil {
			return nil, fmt.Errorf("wallet: purse utxo private key: %w", err)
		}
	}

	const dustThreshold = 546
	changeAmount := totalIn - fee
	if changeAmount > dustThreshold {
		tx.AddTxOut(wire.NewTxOut(int64(changeAmount), changeScript))
	}

	txid := tx.TxHash().String()

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	for i, privKey := range privKeys {
		if err := signP2WPKH(&tx, startIn+i, privKey, prevOutFetcher); err != nil {
			return nil, fmt.Errorf("wallet: signing purse input %d: %w", i, err)
		}
	}

	for _, u := range selected {
		if err := o.storage.MarkUTXOPendingSpend(u.TxID, u.Vout, txid); err != nil {
			return nil, fmt.Errorf("wallet: marking purse utxo pending: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("wallet: serializing paid tx: %w", err)
	}
	return buf.Bytes(), nil
}

// Broadcast submits a fully signed transaction through the purse's own
// chain backend.
func (o *OwnerPurse) Broadcast(ctx context.Context, rawtx []byte) (string, error) {
	return o.backend.BroadcastTransaction(ctx, hex.EncodeToString(rawtx))
}

// Cancel reverts the pending-spend marker on every input of rawtx that this
// wallet recognizes as its own, freeing those UTXOs for a future Pay after a
// commit is abandoned post-payment.
func (o *OwnerPurse) Cancel(ctx context.Context, rawtx []byte) error {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(rawtx)); err != nil {
		return fmt.Errorf("wallet: parsing tx to cancel: %w", err)
	}
	for _, in := range tx.TxIn {
		if err := o.storage.RevertUTXOPendingSpend(in.PreviousOutPoint.Hash.String(), in.PreviousOutPoint.Index); err != nil {
			return fmt.Errorf("wallet: reverting pending spend: %w", err)
		}
	}
	return nil
}
