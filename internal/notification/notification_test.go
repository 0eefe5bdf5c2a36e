/*
Copyright 2024 Blnk Finance Authors.

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

package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/labsync/config"
)

const webhook = "https://hooks.slack.example.com/services/T000/B000/XXX"

func TestSlackMessageFor(t *testing.T) {
	at := time.Date(2024, 3, 4, 13, 10, 0, 0, time.UTC)
	msg := slackMessageFor("kch-eid", errors.New(`unexpected "quote" in error`), at)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	blocks := decoded["blocks"].([]interface{})
	require.Len(t, blocks, 3)

	header := blocks[0].(map[string]interface{})["text"].(map[string]interface{})
	assert.Equal(t, "Error From labsync [kch-eid] 🐞", header["text"])
	assert.Contains(t, string(raw), `unexpected \"quote\" in error`)
	assert.Contains(t, string(raw), "04 Mar 24 13:10 UTC")
}

func TestNotify_PostsToSlack(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var body map[string]interface{}
	httpmock.RegisterResponder("POST", webhook, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	cnf := &config.Configuration{SourceTag: "kch-eid"}
	cnf.Notification.Slack.WebhookUrl = webhook
	config.MockConfig(cnf)

	notify(errors.New("unexpected top-level exception in sync task"))

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.Len(t, body["blocks"], 3)
}

func TestNotify_SkipsWithoutWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(&config.Configuration{SourceTag: "kch-eid"})
	notify(errors.New("boom"))

	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}
