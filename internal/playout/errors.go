/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import "errors"

var (
	// ErrFetchFailed means a track's bytes could not be retrieved.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrEncodeFailed means the encoder could not render a track.
	ErrEncodeFailed = errors.New("encode failed")
)
