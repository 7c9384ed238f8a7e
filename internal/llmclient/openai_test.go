package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/ports"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestChatParsesContentAndUsage(t *testing.T) {
	var captured map[string]any
	client := New(Config{
		APIKey: "sk-test",
		Model:  "gpt-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &captured)
			resp := map[string]any{
				"choices": []map[string]any{{
					"message":       map[string]any{"content": "hello there"},
					"finish_reason": "stop",
				}},
				"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
			}
			data, _ := json.Marshal(resp)
			return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(data)), Header: make(http.Header)}, nil
		})},
	}, nil)

	resp, err := client.Chat(context.Background(), ports.ChatRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-test", captured["model"])
}

func TestChatRepairsMalformedToolArguments(t *testing.T) {
	client := New(Config{
		APIKey: "sk-test",
		Model:  "gpt-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			resp := map[string]any{
				"choices": []map[string]any{{
					"message": map[string]any{
						"content": "",
						"tool_calls": []map[string]any{{
							"id": "call-1",
							"function": map[string]any{
								"name":      "get_weather",
								"arguments": `{"city": "paris",}`,
							},
						}},
					},
					"finish_reason": "tool_calls",
				}},
			}
			data, _ := json.Marshal(resp)
			return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(data)), Header: make(http.Header)}, nil
		})},
	}, nil)

	resp, err := client.Chat(context.Background(), ports.ChatRequest{
		Messages: []ports.Message{{Role: ports.RoleUser, Content: "weather?"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "paris", resp.ToolCalls[0].Arguments["city"])
}

func TestChatReturnsErrorOnHTTPFailure(t *testing.T) {
	client := New(Config{
		APIKey: "sk-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: 500, Body: io.NopCloser(bytes.NewBufferString("boom")), Header: make(http.Header)}, nil
		})},
	}, nil)

	_, err := client.Chat(context.Background(), ports.ChatRequest{Messages: []ports.Message{{Role: ports.RoleUser, Content: "hi"}}})
	require.Error(t, err)
}
