package ledgerbackend

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// generateToml is the Toml Generator: a pure function from (Network,
// scratchPaths) to the node configuration text. It does no I/O; its only
// errors are KindConfigInvalid for a network without a baked template (or a
// template that fails to parse). Writing the result to disk, and the
// KindScratchIO error that can bring, is writeToml's job.
func generateToml(net Network, scratchDir, pipePath string) (string, error) {
	template, err := bakedTemplate(net)
	if err != nil {
		return "", err
	}

	tree, err := toml.Load(template)
	if err != nil {
		// Unreachable for the baked templates shipped with this package;
		// guarded against regardless since Load can fail on malformed TOML.
		return "", wrapErr(KindConfigInvalid, err, "parsing baked node template")
	}

	passphrase, err := networkPassphrase(net)
	if err != nil {
		return "", err
	}
	archiveURLs, err := historyArchiveURLs(net)
	if err != nil {
		return "", err
	}

	tree.Set("NETWORK_PASSPHRASE", passphrase)
	tree.Set("BUCKET_DIR_PATH", scratchDir+"/buckets")
	// The directive that enables metadata emission to the named descriptor.
	// Actual streaming is driven by the --metadata-output-stream runner
	// flag; this mirrors it into the generated config for node versions
	// that read it from disk instead of the command line.
	tree.Set("METADATA_OUTPUT_STREAM", pipePath)

	for i, url := range archiveURLs {
		name := fmt.Sprintf("h%d", i)
		tree.SetPath([]string{"HISTORY", name, "get"}, fmt.Sprintf("curl -sf %s/{0} -o {1}", url))
	}

	return tree.String(), nil
}

// writeToml generates the node config for net and writes it to
// <scratchDir>/node.toml.
func writeToml(net Network, scratchDir, pipePath string) (string, error) {
	content, err := generateToml(net, scratchDir, pipePath)
	if err != nil {
		return "", err
	}
	path := scratchDir + "/node.toml"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", wrapErr(KindScratchIO, err, "writing node.toml")
	}
	return path, nil
}
