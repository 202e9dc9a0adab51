// Package chatadapter maps assistant text onto the two client-facing chat
// grammars, OpenAI Chat Completions and Anthropic Messages.
//
// A Format value selects the grammar. Buffered replies are rendered with
// Format.Response, streamed replies with a per-response StreamRenderer that
// turns start/fragment/end markers into SSE events. Inbound message lists are
// flattened into a single prompt by NormalizePrompt.
package chatadapter
