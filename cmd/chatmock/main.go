// Command chatmock signs in to ChatGPT and serves OpenAI- and
// Ollama-compatible APIs locally, backed by the ChatGPT Responses API.
//
// Quick start:
//
//	chatmock login
//	chatmock serve
package main

import "github.com/yaananth/chatmock/internal/cli"

func main() {
	cli.Execute()
}
