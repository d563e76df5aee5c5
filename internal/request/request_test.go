/*
Copyright 2025 Silo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package request

import (
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJsonReq(t *testing.T) {
	buf, err := ToJsonReq(map[string]string{"name": "silo"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"silo"}`, buf.String())
}

func TestCall_DecodesResponse(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://destination.test/v1/echo",
		httpmock.NewStringResponder(200, `{"ok":true}`))

	payload, err := ToJsonReq(map[string]string{"hello": "world"})
	require.NoError(t, err)

	req, err := http.NewRequest("POST", "http://destination.test/v1/echo", payload)
	require.NoError(t, err)

	var response map[string]interface{}
	resp, err := Call(nil, req, &response)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, true, response["ok"])
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}

func TestCall_NilResponseSkipsDecode(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "http://destination.test/v1/ping",
		httpmock.NewStringResponder(204, ""))

	req, err := http.NewRequest("GET", "http://destination.test/v1/ping", nil)
	require.NoError(t, err)

	resp, err := Call(nil, req, nil)
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
}
