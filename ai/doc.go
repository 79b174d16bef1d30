// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai defines the embedding service abstraction for vecload.
//
// The migration pipeline treats the embedding model as an opaque function
// from text to vector. This package provides:
//
//   - Embedder: the interface the pipeline depends on
//   - Config: functional-options configuration for providers
//
// Implementations live in subpackages:
//
//   - ai/openai: OpenAI-compatible APIs (OpenAI, Ollama, vLLM, LocalAI)
//     via langchaingo
//   - ai/mock: deterministic test double
//
// # Dimensionality
//
// When Config.Dimensions is set, implementations must verify that every
// returned vector has exactly that many elements. A mismatch is a fatal
// configuration error (the model and the destination index disagree) and
// is never retried.
//
// # Thread Safety
//
// All Embedder implementations must be safe for concurrent use; the
// pipeline embeds sub-batches from multiple goroutines.
package ai
