package config

import "fmt"

type EnvVar struct {
	Name        string // short name under the LNSWAP_ prefix (e.g., "DATADIR")
	FullName    string // e.g., "LNSWAP_DATADIR"
	Type        string // human-readable type
	Default     string // default value as a string ("" if none)
	Description string // one-liner for docs
	Notes       string // optional: constraints, examples, etc.
}

func EnvSpecs() []EnvVar {
	const P = EnvPrefix + "_"

	return []EnvVar{
		{
			Name:        Datadir,
			FullName:    P + Datadir,
			Type:        "string (path)",
			Default:     DefaultDatadir,
			Description: "Data directory for the swap history archive",
		},
		{
			Name:        HTTPPort,
			FullName:    P + HTTPPort,
			Type:        "uint32 (port)",
			Default:     fmt.Sprintf("%d", DefaultHTTPPort),
			Description: "HTTP API port",
		},
		{
			Name:        LogLevel,
			FullName:    P + LogLevel,
			Type:        "uint32 (0–6)",
			Default:     fmt.Sprintf("%d", DefaultLogLevel),
			Description: "Log verbosity (higher = more verbose)",
		},
		{
			Name:        Network,
			FullName:    P + Network,
			Type:        "string",
			Default:     DefaultNetwork,
			Description: "Bitcoin network: mainnet | testnet | regtest",
		},
		{
			Name:        BoltzURL,
			FullName:    P + BoltzURL,
			Type:        "string (URL)",
			Default:     "",
			Description: "Boltz HTTP endpoint (e.g., https://api.boltz.exchange)",
			Notes:       "Required.",
		},
		{
			Name:        BoltzWSURL,
			FullName:    P + BoltzWSURL,
			Type:        "string (WS URL)",
			Default:     "",
			Description: "Boltz WebSocket endpoint",
			Notes:       "Derived from BOLTZ_URL when empty.",
		},
		{
			Name:        FromCurrency,
			FullName:    P + FromCurrency,
			Type:        "string",
			Default:     DefaultFromCurrency,
			Description: "Currency the payer sends: BTC",
		},
		{
			Name:        ToCurrency,
			FullName:    P + ToCurrency,
			Type:        "string",
			Default:     DefaultToCurrency,
			Description: "Currency received on chain: BTC | L-BTC",
		},
		{
			Name:        DestinationAddress,
			FullName:    P + DestinationAddress,
			Type:        "string (address)",
			Default:     "",
			Description: "Address claimed funds are sent to",
			Notes:       "Must match TO_CURRENCY and NETWORK.",
		},
		{
			Name:        ClaimCovenant,
			FullName:    P + ClaimCovenant,
			Type:        "bool",
			Default:     fmt.Sprintf("%v", DefaultClaimCovenant),
			Description: "Ask for a covenant claim leaf (L-BTC only)",
		},
		{
			Name:        ClaimerType,
			FullName:    P + ClaimerType,
			Type:        "string",
			Default:     DefaultClaimerType,
			Description: "Claim strategy: process | daemon | none",
			Notes:       "none reports paid swaps without claiming them.",
		},
		{
			Name:        ClaimerPath,
			FullName:    P + ClaimerPath,
			Type:        "string (path)",
			Default:     "",
			Description: "Claiming executable (when CLAIMER_TYPE=process)",
		},
		{
			Name:        ClaimerURL,
			FullName:    P + ClaimerURL,
			Type:        "string (URL)",
			Default:     "",
			Description: "Claim daemon base URL (when CLAIMER_TYPE=daemon)",
		},
		{
			Name:        ClaimTimeout,
			FullName:    P + ClaimTimeout,
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", DefaultClaimTimeout),
			Description: "Upper bound for one claim attempt",
		},
		{
			Name:        ConnectTimeout,
			FullName:    P + ConnectTimeout,
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", DefaultConnectTimeout),
			Description: "Push channel connect timeout",
		},
		{
			Name:        KeepAliveInterval,
			FullName:    P + KeepAliveInterval,
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", DefaultKeepAliveInterval),
			Description: "Push channel ping interval",
		},
		{
			Name:        PaidStatuses,
			FullName:    P + PaidStatuses,
			Type:        "string (comma separated)",
			Default:     "",
			Description: "Swap statuses treated as paid",
			Notes:       "Empty keeps the built-in set.",
		},
		{
			Name:        FailedStatuses,
			FullName:    P + FailedStatuses,
			Type:        "string (comma separated)",
			Default:     "",
			Description: "Swap statuses treated as failed",
			Notes:       "Empty keeps the built-in set. Failed wins over paid.",
		},
		{
			Name:        Mnemonic,
			FullName:    P + Mnemonic,
			Type:        "string",
			Default:     "",
			Description: "BIP39 mnemonic for deterministic claim keys",
			Notes:       "Random claim keys are used when empty.",
		},
		{
			Name:        SweepInterval,
			FullName:    P + SweepInterval,
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", DefaultSweepInterval),
			Description: "Interval of the expiry sweep and history prune",
		},
		{
			Name:        HistoryRetention,
			FullName:    P + HistoryRetention,
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", DefaultHistoryRetention),
			Description: "How long final swaps stay in memory",
			Notes:       "They stay in the archive.",
		},
		{
			Name:        ExpiryGrace,
			FullName:    P + ExpiryGrace,
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", DefaultExpiryGrace),
			Description: "Grace after invoice expiry before an unpaid swap is failed locally",
		},
	}
}

//go:generate go run ../../tools/gen-env-doc/main.go
