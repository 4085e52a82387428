package utils

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/network"
)

// LiquidNetwork returns the elements network matching a bitcoin one.
func LiquidNetwork(params *chaincfg.Params) *network.Network {
	switch params.Name {
	case chaincfg.MainNetParams.Name:
		return &network.Liquid
	case chaincfg.RegressionNetParams.Name:
		return &network.Regtest
	default:
		return &network.Testnet
	}
}

func ValidateBtcAddress(addr string, params *chaincfg.Params) error {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("invalid bitcoin address: %w", err)
	}
	if !decoded.IsForNet(params) {
		return fmt.Errorf("bitcoin address is not for %s", params.Name)
	}
	return nil
}

func ValidateLiquidAddress(addr string, params *chaincfg.Params) error {
	if _, err := address.ToOutputScript(addr); err != nil {
		return fmt.Errorf("invalid liquid address: %w", err)
	}
	net, err := address.NetworkForAddress(addr)
	if err != nil {
		return fmt.Errorf("invalid liquid address: %w", err)
	}
	if want := LiquidNetwork(params); net.Name != want.Name {
		return fmt.Errorf("liquid address is for %s, not %s", net.Name, want.Name)
	}
	return nil
}
