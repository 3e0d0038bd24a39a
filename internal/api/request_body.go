package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"

	"github.com/fantom-ide/rbvmd/protocol"
)

const maxJSONBodyBytes int64 = 2 * 1024 * 1024

// decodeRequest fills dst from a JSON body, or hands the form fields to
// bindForm when the request is form encoded.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any, bindForm func(form url.Values)) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxJSONBodyBytes); err != nil && err != http.ErrNotMultipart {
			return err
		}
		bindForm(r.Form)
		return nil
	default:
		return json.NewDecoder(r.Body).Decode(dst)
	}
}

func decodeCompileRequest(w http.ResponseWriter, r *http.Request) (protocol.CompileRequest, error) {
	var req protocol.CompileRequest
	err := decodeRequest(w, r, &req, func(form url.Values) {
		req.Code = form.Get("code")
		req.Format = form.Get("format")
		req.Smart = form.Get("smart")
	})
	return req, err
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request) (protocol.RunRequest, error) {
	var req protocol.RunRequest
	err := decodeRequest(w, r, &req, func(form url.Values) {
		req.Bytecode = form.Get("bytecode")
	})
	return req, err
}

func decodeExchangeRequest(w http.ResponseWriter, r *http.Request) (protocol.ExchangeRequest, error) {
	var req protocol.ExchangeRequest
	err := decodeRequest(w, r, &req, func(form url.Values) {
		req.ID = form.Get("id")
		req.Line = form.Get("line")
	})
	return req, err
}
