// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package internal

import (
	"encoding/json"
	"fmt"
)

// Serializer converts workflow/step/transaction inputs, outputs and errors
// to and from the byte strings recorded in the system and application
// databases. The format must round-trip arbitrary user data and must be
// stable across restarts and across worker processes of the same version.
// The default implementation encodes values as plain JSON and errors as a
// JSON {kind, message} object.
type Serializer interface {
	Serialize(value interface{}) ([]byte, error)
	Deserialize(data []byte, valuePtr interface{}) error
	SerializeError(err error) ([]byte, error)
	DeserializeError(data []byte) (error, error)
}

type jsonSerializer struct{}

// DefaultSerializer is the Serializer used by a DBOS instance unless the
// WithSerializer launch option overrides it.
var DefaultSerializer Serializer = &jsonSerializer{}

func (s *jsonSerializer) Serialize(value interface{}) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return data, nil
}

func (s *jsonSerializer) Deserialize(data []byte, valuePtr interface{}) error {
	if len(data) == 0 || valuePtr == nil {
		return nil
	}
	if err := json.Unmarshal(data, valuePtr); err != nil {
		return fmt.Errorf("deserialize: %w", err)
	}
	return nil
}

// serializedError is the on-the-wire shape of a recorded error: a stable
// kind tag plus the human-readable message. Exact runtime-type
// equivalence of the reconstructed error is not required.
type serializedError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *jsonSerializer) SerializeError(err error) ([]byte, error) {
	if err == nil {
		return nil, nil
	}
	payload := serializedError{
		Kind:    string(kindOf(err)),
		Message: err.Error(),
	}
	data, jerr := json.Marshal(payload)
	if jerr != nil {
		return nil, fmt.Errorf("serialize error: %w", jerr)
	}
	return data, nil
}

func (s *jsonSerializer) DeserializeError(data []byte) (error, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var payload serializedError
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("deserialize error: %w", err)
	}
	return reconstructError(errorKind(payload.Kind), payload.Message), nil
}
