// Package codewhispererproxy is an OpenAI-compatible gateway for Amazon
// CodeWhisperer.
//
// # Overview
//
// Clients speak the OpenAI chat completions protocol. The gateway keeps one
// CodeWhisperer conversation per caller, translates each request into a
// GenerateAssistantResponse call and converts the streamed reply back into
// OpenAI chunks or a single completion.
//
// # Upstream Authentication
//
// The upstream bearer token comes from the AWS SSO OIDC device flow:
//
//  1. Register a public client (reused until its secret expires)
//  2. Start a device authorization and show the user code
//  3. Poll the token endpoint until the user approves, honoring slow-down replies
//  4. Store the token and refresh it shortly before it expires
//
// Run the server with --login, or POST /authenticate, to start the flow.
// Credentials are kept in ~/.codewhisperer-proxy or in a SQL database.
//
// # Upstream Request
//
// Every turn is a POST with these headers:
//
//   - Content-Type: application/x-amz-json-1.0
//   - X-Amz-Target: AmazonCodeWhispererStreamingService.GenerateAssistantResponse
//   - Authorization: Bearer {ACCESS_TOKEN}
//   - amz-sdk-invocation-id: a fresh UUID
//
// The body carries the conversation state: the optional conversation id, the
// current message, the trigger type MANUAL and the prior history. The reply
// is either newline-delimited "data:" JSON records or the binary AWS event
// stream encoding; both are decoded into the same events.
//
// # Gateway Endpoints
//
//   - POST /v1/chat/completions: chat, streamed as server-sent events when "stream" is true
//   - GET /v1/models: the advertised model list
//   - GET /health: liveness
//   - GET /status: upstream token and login flow state
//   - POST /authenticate: starts a device login
//
// Callers authenticate with a static API key (VALID_API_KEYS) or a gateway
// token signed with GATEWAY_TOKEN_SECRET. See cmd for the full flag and
// environment reference.
package codewhispererproxy
