// Package params loads epochbft's process configuration: committee
// membership, this node's keys, and network/storage wiring, from the
// environment and an optional .env file rather than a bespoke flags
// parser.
package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AuthorityConfig is one committee member's public identity as loaded from
// config: its signing address (hex) and voting stake.
type AuthorityConfig struct {
	Address string
	Stake   uint64
}

// Consensus bundles the committee-facing configuration: the authority
// table and the bound on a proposed block's payload.
type Consensus struct {
	Authorities    []AuthorityConfig
	MaxPayloadSize int
}

// Node bundles this process's own identity and local wiring.
type Node struct {
	// Devnet runs the whole committee in-process (no real networking),
	// dealing threshold keys locally; useful for development. Mutually
	// exclusive with a real libp2p peer.
	Devnet bool

	// SelfPrivateKeyHex is this authority's secp256k1 signing key
	// (non-devnet mode only; devnet generates all keys locally).
	SelfPrivateKeyHex string

	// ThresholdPublicKeyHex and ThresholdShareHex carry the out-of-band
	// dealt threshold key material (non-devnet mode only): the former is
	// shared committee-wide, the latter is this authority's private share.
	ThresholdPublicKeyHex string
	ThresholdShareHex     string

	ListenAddr string
	Bootstrap  []string

	// Peers maps a committee authority's signing address (hex) to its
	// dialable libp2p peer ID, used to route unicast Help replies
	// (non-devnet mode only; devnet routes in-process, see cmd/node's bus).
	Peers map[string]string

	DataDir string
	APIAddr string

	VerboseLogging bool
}

type Config struct {
	Consensus Consensus
	Node      Node
}

// Default is a 4-authority devnet: the smallest committee with n=3f+1
// and f=1 (quorum 3, coin threshold 2).
func Default() Config {
	return Config{
		Consensus: Consensus{
			Authorities: []AuthorityConfig{
				{Address: "devnet-0", Stake: 1},
				{Address: "devnet-1", Stake: 1},
				{Address: "devnet-2", Stake: 1},
				{Address: "devnet-3", Stake: 1},
			},
			MaxPayloadSize: 1 << 20,
		},
		Node: Node{
			Devnet:     true,
			ListenAddr: "/ip4/0.0.0.0/tcp/0",
			DataDir:    "data",
			APIAddr:    ":8080",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DEVNET"); v != "" {
		cfg.Node.Devnet = v == "true"
	}
	if v := os.Getenv("SELF_PRIVATE_KEY"); v != "" {
		cfg.Node.SelfPrivateKeyHex = v
	}
	if v := os.Getenv("THRESHOLD_PUBLIC_KEY_HEX"); v != "" {
		cfg.Node.ThresholdPublicKeyHex = v
	}
	if v := os.Getenv("THRESHOLD_SHARE_HEX"); v != "" {
		cfg.Node.ThresholdShareHex = v
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("BOOTSTRAP"); v != "" {
		cfg.Node.Bootstrap = strings.Split(v, ",")
	}
	// PEERS="0xabc...@12D3KooW...,0xdef...@12D3KooW..." maps committee
	// addresses to libp2p peer IDs for unicast routing.
	if v := os.Getenv("PEERS"); v != "" {
		peers := make(map[string]string)
		for _, entry := range strings.Split(v, ",") {
			parts := strings.SplitN(entry, "@", 2)
			if len(parts) != 2 {
				continue
			}
			peers[parts[0]] = parts[1]
		}
		cfg.Node.Peers = peers
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("VERBOSE"); v != "" {
		cfg.Node.VerboseLogging = v == "true"
	}
	if v := os.Getenv("MAX_PAYLOAD_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Consensus.MaxPayloadSize = n
		}
	}
	if v := os.Getenv("DEVNET_AUTHORITIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			authorities := make([]AuthorityConfig, n)
			for i := range authorities {
				authorities[i] = AuthorityConfig{Address: "devnet-" + strconv.Itoa(i), Stake: 1}
			}
			cfg.Consensus.Authorities = authorities
		}
	}
	// COMMITTEE="0xabc...:2,0xdef...:1" overrides the authority table for a
	// real (non-devnet) committee: each entry is address:stake.
	if v := os.Getenv("COMMITTEE"); v != "" {
		var authorities []AuthorityConfig
		for _, entry := range strings.Split(v, ",") {
			parts := strings.SplitN(entry, ":", 2)
			if len(parts) != 2 {
				continue
			}
			stake, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				continue
			}
			authorities = append(authorities, AuthorityConfig{Address: parts[0], Stake: stake})
		}
		if len(authorities) > 0 {
			cfg.Consensus.Authorities = authorities
		}
	}

	return cfg
}

// Quorum returns the stake thresholds derived from total stake:
// quorum = ceil((2*total+1)/3), coin = ceil((total+1)/3).
func (c Consensus) Quorum() (quorum, coin uint64) {
	var total uint64
	for _, a := range c.Authorities {
		total += a.Stake
	}
	return (2*total + 3) / 3, (total + 3) / 3
}
