package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs transactions for one secp256k1 key on one chain.
type TxSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewTxSigner creates a TxSigner from a hex private key. chainID may be nil
// when the signer is only used to derive the address.
func NewTxSigner(privateKeyHex string, chainID *big.Int) (*TxSigner, error) {
	b, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}
	pk, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &TxSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the account the key controls.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer signs for.
func (s *TxSigner) ChainID() *big.Int {
	return s.chainID
}

// SignTx signs tx with the latest signer for the configured chain.
func (s *TxSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	if s.chainID == nil {
		return nil, fmt.Errorf("crypto/signer: no chain id configured")
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w", err)
	}
	return signed, nil
}

// NewDynamicFeeTx builds an unsigned EIP-1559 call to `to` with calldata.
func (s *TxSigner) NewDynamicFeeTx(nonce uint64, to common.Address, data []byte, gas uint64, tipCap, feeCap *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})
}
