// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/holomush/credkeep/internal/auth"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

type registerRequest struct {
	Name     string `json:"name" jsonschema:"maxLength=200"`
	Email    string `json:"email" jsonschema:"maxLength=320"`
	Password string `json:"password" jsonschema:"maxLength=1024"`
}

type loginRequest struct {
	Email    string `json:"email" jsonschema:"maxLength=320"`
	Password string `json:"password" jsonschema:"maxLength=1024"`
}

type updateProfileRequest struct {
	Name  *string `json:"name,omitempty" jsonschema:"maxLength=200"`
	Phone *string `json:"phone,omitempty" jsonschema:"maxLength=64"`
	Bio   *string `json:"bio,omitempty"`
	Photo *string `json:"photo,omitempty" jsonschema:"maxLength=2048"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" jsonschema:"maxLength=1024"`
	Password    string `json:"password" jsonschema:"maxLength=1024"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" jsonschema:"maxLength=320"`
}

type resetPasswordRequest struct {
	Password string `json:"password" jsonschema:"maxLength=1024"`
}

// requestTypes are the bodies accepted by the API.
var requestTypes = []any{
	registerRequest{},
	loginRequest{},
	updateProfileRequest{},
	changePasswordRequest{},
	forgotPasswordRequest{},
	resetPasswordRequest{},
}

// RequestSchemas returns the JSON Schema of every request body, keyed by the
// route it is posted to.
func RequestSchemas() (map[string][]byte, error) {
	named := map[string]any{
		"register":       registerRequest{},
		"login":          loginRequest{},
		"updateuser":     updateProfileRequest{},
		"changepassword": changePasswordRequest{},
		"forgotpassword": forgotPasswordRequest{},
		"resetpassword":  resetPasswordRequest{},
	}
	out := make(map[string][]byte, len(named))
	for name, v := range named {
		data, err := generateSchema(v)
		if err != nil {
			return nil, err
		}
		out[name] = data
	}
	return out, nil
}

// schemaSet holds one compiled JSON Schema per request type. The schemas
// check shape and size only; business rules stay in the auth service so
// their messages and codes come from one place.
type schemaSet struct {
	byType map[reflect.Type]*jschema.Schema
}

// generateSchema reflects the JSON Schema document of v.
func generateSchema(v any) ([]byte, error) {
	r := jsonschema.Reflector{
		Anonymous:                  true,
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").With("type", reflect.TypeOf(v).Name()).Wrap(err)
	}
	return data, nil
}

func compileSchemas(types ...any) (*schemaSet, error) {
	set := &schemaSet{byType: make(map[reflect.Type]*jschema.Schema, len(types))}
	c := jschema.NewCompiler()
	for _, v := range types {
		t := reflect.TypeOf(v)
		data, err := generateSchema(v)
		if err != nil {
			return nil, err
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.Name()).Wrap(err)
		}
		url := t.Name() + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.Name()).Wrap(err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("type", t.Name()).Wrap(err)
		}
		set.byType[t] = sch
	}
	return set, nil
}

// decode reads the request body into dst after validating it against the
// schema of dst's type. An empty body is treated as {}.
func (set *schemaSet) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return oops.Code("REQUEST_TOO_LARGE").
				With("limit", tooLarge.Limit).
				Public("request body too large").
				Wrapf(auth.ErrValidation, "read body: %v", err)
		}
		return oops.Code("REQUEST_READ_FAILED").Wrap(err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	inst, err := jschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return oops.Code("REQUEST_MALFORMED").
			Public("request body is not valid JSON").
			Wrapf(auth.ErrValidation, "parse body: %v", err)
	}

	t := reflect.TypeOf(dst).Elem()
	sch, ok := set.byType[t]
	if !ok {
		return oops.Code("SCHEMA_MISSING").With("type", t.Name()).Errorf("no schema for request type")
	}
	if err := sch.Validate(inst); err != nil {
		return oops.Code("REQUEST_INVALID").
			With("type", t.Name()).
			Public("invalid request body").
			Wrapf(auth.ErrValidation, "schema validation: %v", err)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return oops.Code("REQUEST_MALFORMED").
			Public("request body is not valid JSON").
			Wrapf(auth.ErrValidation, "decode body: %v", err)
	}
	return nil
}
