package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestServerToolsRegistration(t *testing.T) {
	server, _ := newTestServer(t)
	ctx := context.Background()

	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`
	if resp := server.mcpServer.HandleMessage(ctx, json.RawMessage(initialize)); resp == nil {
		t.Fatal("initialize returned no response")
	}

	resp := server.mcpServer.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to encode response: %v", err)
	}

	for _, tool := range []string{"segment_pages", "split_pdf", "field_mappings", "add_field_alias"} {
		if !strings.Contains(string(raw), `"`+tool+`"`) {
			t.Errorf("tool %s not registered: %s", tool, raw)
		}
	}
}

func TestServerServe_StopsOnContext(t *testing.T) {
	server, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var out bytes.Buffer
		// a reader that never yields keeps the server waiting on ctx
		done <- server.Serve(ctx, blockingReader{ctx: ctx}, &out)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Serve did not stop after the context expired")
	}
}

type blockingReader struct {
	ctx context.Context
}

func (r blockingReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}
