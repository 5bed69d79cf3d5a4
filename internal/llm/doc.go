/*
Package llm serves the OpenAI chat-completions API on top of the CodeWhisperer
GenerateAssistantResponse operation.

# Architecture Overview

1. HTTP Handlers (handlers.go)
  - /v1/chat/completions, /v1/models, /health and /status
  - Resolve the caller, pick its conversation and write SSE or JSON replies

2. Service Layer (service.go)
  - Obtains the bearer token from a TokenSource
  - POSTs the conversation state upstream and hands the body to the
    eventstream decoder selected by the response Content-Type
  - Drives the convert package to produce chunks or a full completion

3. Authorization (authorization.go)
  - Authenticates gateway callers by static API key or gateway token
  - Derives the caller key that selects the conversation

4. Configuration (config.go)
  - Upstream endpoint, profile ARN and the advertised model list

5. Token Management (token.go)
  - Creates and validates HS256 gateway tokens

# Request Flow

 1. A chat request arrives and the caller is resolved
 2. The caller's conversation is fetched from the session registry
 3. The request is converted to a conversation state carrying the
    conversation id of earlier turns
 4. The upstream reply is decoded event by event
 5. Events become OpenAI chunks, streamed as they arrive, or are collected
    into a single chat.completion object

Failures before the first byte is written produce an OpenAI error body with
status 500 (400 for malformed requests). Failures mid-stream produce one
error chunk followed by the terminating data: [DONE] line.
*/
package llm
