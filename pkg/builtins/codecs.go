package builtins

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/google/uuid"
)

const maxUUIDs = 100

// UUIDGenerator handles tool_uuid_generator.
func UUIDGenerator(_ context.Context, args map[string]any) (any, error) {
	count := intArg(args, "count", 1)
	if count < 1 || count > maxUUIDs {
		return fail("count must be between 1 and %d", maxUUIDs), nil
	}
	version := stringArg(args, "version")
	if version == "" {
		version = "v4"
	}

	ids := make([]any, 0, count)
	for i := 0; i < count; i++ {
		var (
			id  uuid.UUID
			err error
		)
		switch version {
		case "v4":
			id, err = uuid.NewRandom()
		case "v7":
			id, err = uuid.NewV7()
		default:
			return fail("unsupported uuid version %q", version), nil
		}
		if err != nil {
			return nil, err
		}
		s := id.String()
		if boolArg(args, "uppercase") {
			s = strings.ToUpper(s)
		}
		ids = append(ids, s)
	}
	return ok(map[string]any{"uuids": ids}), nil
}

// HashCalculator handles tool_hash_calculator.
func HashCalculator(_ context.Context, args map[string]any) (any, error) {
	algorithm := stringArg(args, "algorithm")
	if algorithm == "" {
		algorithm = "sha256"
	}

	var h hash.Hash
	switch algorithm {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return fail("unsupported algorithm %q", algorithm), nil
	}
	h.Write([]byte(stringArg(args, "data")))
	sum := h.Sum(nil)

	var encoded string
	switch stringArg(args, "encoding") {
	case "", "hex":
		encoded = hex.EncodeToString(sum)
	case "base64":
		encoded = base64.StdEncoding.EncodeToString(sum)
	default:
		return fail("unsupported encoding %q", stringArg(args, "encoding")), nil
	}
	return ok(map[string]any{"hash": encoded, "algorithm": algorithm}), nil
}

// Base64Codec handles tool_base64_codec.
func Base64Codec(_ context.Context, args map[string]any) (any, error) {
	enc := base64.StdEncoding
	if boolArg(args, "url_safe") {
		enc = base64.URLEncoding
	}
	data := stringArg(args, "data")

	switch stringArg(args, "action") {
	case "encode":
		return ok(map[string]any{"result": enc.EncodeToString([]byte(data))}), nil
	case "decode":
		out, err := enc.DecodeString(data)
		if err != nil {
			return fail("invalid base64: %v", err), nil
		}
		return ok(map[string]any{"result": string(out)}), nil
	}
	return fail("unsupported action %q", stringArg(args, "action")), nil
}
