/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package egress

import (
	"os"
	"path/filepath"
)

func openForForward(path string) (*os.File, error) {
	return os.Open(path)
}

func basename(path string) string {
	return filepath.Base(path)
}
