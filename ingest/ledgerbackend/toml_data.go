package ledgerbackend

import "github.com/stellar/go/network"

// testnetDefaultConfig and pubnetDefaultConfig are the baked node
// configuration templates for the two supported networks. The Toml
// Generator adds the network passphrase, bucket directory, metadata stream
// path and history archive commands at generation time. Neither the
// templates nor the generator write a node identity seed. Quorum set and
// history archive endpoints mirror the values the real network constants
// describe; no secrets are ever baked in.
const testnetDefaultConfig = `
RUN_STANDALONE=false
NODE_IS_VALIDATOR=false
DISABLE_XDR_FSYNC=true
UNSAFE_QUORUM=true
FAILURE_SAFETY=0

[[HOME_DOMAINS]]
HOME_DOMAIN="testnet.stellar.org"
QUALITY="MEDIUM"

[[VALIDATORS]]
NAME="sdf_testnet_1"
HOME_DOMAIN="testnet.stellar.org"
PUBLIC_KEY="GDKXE2OZMJIPOSLNA6N6F2BVCI3O777I2OOC4BV7VOYUEHYX7RTRYA7Y"
ADDRESS="core-testnet1.stellar.org"
HISTORY="curl -sf http://history.stellar.org/prd/core-testnet/core_testnet_001/{0} -o {1}"
`

const pubnetDefaultConfig = `
RUN_STANDALONE=false
NODE_IS_VALIDATOR=false
DISABLE_XDR_FSYNC=true
UNSAFE_QUORUM=true
FAILURE_SAFETY=0

[[HOME_DOMAINS]]
HOME_DOMAIN="stellar.org"
QUALITY="HIGH"

[[VALIDATORS]]
NAME="sdf_1"
HOME_DOMAIN="stellar.org"
PUBLIC_KEY="GCGB2S2KGYARPVIA37HYZXVRM2YZUEXA6S33ZU5BUDC6THSB62LZSTYH"
ADDRESS="core-live-a.stellar.org"
HISTORY="curl -sf http://history.stellar.org/prd/core-live/core_live_001/{0} -o {1}"
`

func bakedTemplate(net Network) (string, error) {
	switch net {
	case Testnet:
		return testnetDefaultConfig, nil
	case Pubnet:
		return pubnetDefaultConfig, nil
	default:
		return "", newErr(KindConfigInvalid, "no baked template for network")
	}
}

func networkPassphrase(net Network) (string, error) {
	switch net {
	case Testnet:
		return network.TestNetworkPassphrase, nil
	case Pubnet:
		return network.PublicNetworkPassphrase, nil
	default:
		return "", newErr(KindConfigInvalid, "no network passphrase for network")
	}
}

func historyArchiveURLs(net Network) ([]string, error) {
	switch net {
	case Testnet:
		return network.TestNetworkhistoryArchiveURLs, nil
	case Pubnet:
		return network.PublicNetworkhistoryArchiveURLs, nil
	default:
		return nil, newErr(KindConfigInvalid, "no history archive urls for network")
	}
}
