//go:build !unix

package session

import (
	"errors"
	"io"
)

func (h *Handle) startPTY() (io.Reader, error) {
	return nil, errors.New("pty transport is not supported on this platform")
}
