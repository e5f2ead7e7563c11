// Package tracing wires the optional Langfuse callback handler into the Eino
// model stack so every generation — intent classification, single-shot
// answers, subtask runs, and workflow synthesis — is traced when credentials
// are configured.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"

	"github.com/DevjeetSahu/agriquery-go/internal/version"
)

// traceName labels every trace emitted by this engine so multi-service
// Langfuse projects can filter query-answering traffic.
const traceName = "agriquery-engine"

// Setup initialises the Langfuse callback handler if LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set. Traces are stamped with the engine name, the
// binary release, and domain tags so generations from this system are
// separable from anything else reporting into the same project.
//
// Returns a flush function that must be called before process exit to ensure
// all traces are sent. If Langfuse is not configured, the handler and the
// flush function are nil, the boolean is false, and tracing is silently
// disabled.
func Setup() (callbacks.Handler, func(), bool) {
	host := os.Getenv("LANGFUSE_HOST")
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")

	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      traceName,
		Release:   version.Version,
		Tags:      []string{"agriquery", "rag"},
	})

	return handler, flusher, true
}
