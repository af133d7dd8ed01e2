// Package vetting canonicalizes and risk-scores skill configuration before
// it is installed on an agent.
//
// Content is identified by a semantic hash: comments and trailing commas
// are tolerated, the JSON document is re-encoded with CBOR core
// deterministic encoding and digested with BLAKE3-256. The registry keys
// vetting decisions on (skill name, hash), so a reformatted but otherwise
// identical config keeps its verdict while any semantic change forces a
// fresh scan.
package vetting

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

var canonical = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vetting: cbor encode mode: %v", err))
	}
	return em
}()

// ComputeHash returns the 64 character hex BLAKE3-256 digest of content's
// canonical form. Content that is not JSON (after comment stripping) is
// hashed as raw bytes.
func ComputeHash(content string) string {
	if v, err := decodeJSONC(content); err == nil {
		if enc, err := canonical.Marshal(v); err == nil {
			return digest(enc)
		}
	}
	return digest([]byte(content))
}

func digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// decodeJSONC parses content as JSON after stripping comments and trailing
// commas.
func decodeJSONC(content string) (any, error) {
	return decodeJSON(jsonc.ToJSON([]byte(content)))
}

// decodeJSON parses exactly one JSON value. Numbers keep their integer
// identity where they have one.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return u
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return string(t)
	default:
		return v
	}
}
