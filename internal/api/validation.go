package api

import (
	"fmt"
	"strings"

	"github.com/fantom-ide/rbvmd/internal/ident"
	"github.com/fantom-ide/rbvmd/protocol"
)

// ValidateSessionID rejects identifiers that cannot name a session.
func ValidateSessionID(id string) error {
	if !ident.Valid(id) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

func validateCompileRequest(req protocol.CompileRequest) error {
	if req.Format == "" {
		return fmt.Errorf("format is required")
	}
	return nil
}

func validateExchangeRequest(req protocol.ExchangeRequest) error {
	if req.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(req.Line, "\r\n") {
		return fmt.Errorf("line must not contain line breaks")
	}
	return nil
}
