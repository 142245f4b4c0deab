package assets

import (
	"io/fs"
	"strings"
	"testing"
)

func TestClientFS(t *testing.T) {
	for _, name := range []string{"editor.js", "editor.css"} {
		if _, err := fs.Stat(ClientFS(), name); err != nil {
			t.Errorf("%s missing from ClientFS: %v", name, err)
		}
	}
}

func TestEditorScriptOpensWebSocket(t *testing.T) {
	data, err := fs.ReadFile(ClientFS(), "editor.js")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "WebSocket") {
		t.Error("editor.js does not open a WebSocket")
	}
}
