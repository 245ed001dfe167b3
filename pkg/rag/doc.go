// Package rag embeds the docrag question-answering pipeline in other
// Go programs.
//
// The package wraps the internal orchestrator behind a small, stable
// surface: open a [Client] against a data directory, ask questions,
// prepare namespaces, read status. Everything the CLI, daemon and MCP
// server can do with a namespace flows through the same pipeline that
// backs this client.
//
// # Usage
//
// Open a client over an existing data directory and ask a question:
//
//	client, err := rag.Open(ctx,
//	    rag.WithProjectDir("/srv/docrag"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	answer, err := client.Ask(ctx, "acme", "support", "退货政策是什么？")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(answer.Answer)
//
// Prepare (or rebuild) a namespace from its documents directory:
//
//	result, err := client.Prepare(ctx, "acme", "support", false)
//
// # Concurrency
//
// A Client is safe for concurrent use. Namespaces load lazily on first
// touch and stay resident until invalidated or the client is closed.
package rag
