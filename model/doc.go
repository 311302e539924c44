// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language models inside researchmesh.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic stand-ins for tests (MockModel, ScriptedModel, Func)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so higher layers (agent runtimes, the scheduler) remain decoupled
// from vendor SDKs. RateLimited throttles any Model with a token bucket.
package model
