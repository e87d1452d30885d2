package js

import (
	_ "embed"
)

// HarnessScript installs window.__horseman, the page side of function
// evaluation: it invokes functions in one of three calling conventions
// and parks results that are not available synchronously.
//
//go:embed harness.js
var HarnessScript string

// HelperScript installs window.horseman, a small DOM helper library
// available to evaluated functions.
//
//go:embed helpers.js
var HelperScript string
