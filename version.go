package ledger

import _ "embed"

// Version is the release of the ledger module.
//
//go:embed VERSION
var Version string
