// Package openai implements ai.Embedder against OpenAI-compatible
// embedding APIs (OpenAI, Ollama, vLLM, LocalAI) via langchaingo.
package openai
