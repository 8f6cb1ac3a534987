package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/ankiport/internal/collection"
	"github.com/starford/ankiport/internal/importer"
	"github.com/starford/ankiport/internal/importservice"
	"github.com/starford/ankiport/internal/jobs"
	"github.com/starford/ankiport/internal/models"
	"github.com/starford/ankiport/internal/testutil"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()

	dir := t.TempDir()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	col := testutil.Collection(t, dir, "collection.anki2", testutil.Epoch, testutil.Epoch)
	store := testutil.MediaStore(t, col.Path())
	q := jobs.New(jobs.ImportRunner{
		Collection: col,
		Media:      store,
		Options:    []importer.Option{importer.WithLogger(quiet), importer.WithTempDir(t.TempDir())},
	}, jobs.WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := importservice.NewService(q, col, filepath.Join(dir, "spool"))
	return New(svc), dir
}

func writePackage(t *testing.T, dir string) string {
	t.Helper()
	m := testutil.Model(1001, "Basic", []string{"Front", "Back"}, "Card 1")
	src := testutil.Collection(t, filepath.Join(dir, "export"), "collection.anki2", testutil.Epoch, testutil.Epoch)
	n, cards := testutil.Note(m, 1, "guid-1", 100, models.DefaultDeckID, "front", "back")
	testutil.Insert(t, src, m, n, cards...)
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	pkg := filepath.Join(dir, "deck.apkg")
	testutil.Package(t, pkg, src.Path(), "collection.anki21", nil)
	return pkg
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so we call the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "import_package":
		result, err = srv.importPackage(ctx, req)
	case "upload_package":
		result, err = srv.uploadPackage(ctx, req)
	case "import_status":
		result, err = srv.importStatus(ctx, req)
	case "collection_stats":
		result, err = srv.collectionStats(ctx, req)
	case "get_import_guide":
		result, err = srv.getImportGuide(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestImportPackageWaits(t *testing.T) {
	srv, dir := testServer(t)
	pkg := writePackage(t, dir)

	r := callTool(t, srv, "import_package", map[string]interface{}{"path": pkg})
	if r.IsError {
		t.Fatalf("import failed: %s", resultText(r))
	}
	var job jobs.Job
	if err := json.Unmarshal([]byte(resultText(r)), &job); err != nil {
		t.Fatal(err)
	}
	if job.State != jobs.StateSucceeded || job.Result == nil || job.Result.Added != 1 {
		t.Errorf("job = %+v", job)
	}

	r = callTool(t, srv, "import_status", map[string]interface{}{"id": job.ID})
	if !strings.Contains(resultText(r), `"state": "succeeded"`) {
		t.Errorf("status = %s", resultText(r))
	}

	r = callTool(t, srv, "collection_stats", map[string]interface{}{})
	var st collection.Stats
	if err := json.Unmarshal([]byte(resultText(r)), &st); err != nil {
		t.Fatal(err)
	}
	if st.Notes != 1 {
		t.Errorf("notes = %d, want 1", st.Notes)
	}
}

func TestImportPackageMissing(t *testing.T) {
	srv, dir := testServer(t)
	r := callTool(t, srv, "import_package", map[string]interface{}{"path": filepath.Join(dir, "nope.apkg")})
	if !r.IsError {
		t.Error("expected error for missing file")
	}
}

func TestImportPackageInvalidIsError(t *testing.T) {
	srv, dir := testServer(t)
	bad := filepath.Join(dir, "bad.apkg")
	if err := os.WriteFile(bad, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := callTool(t, srv, "import_package", map[string]interface{}{"path": bad})
	if !r.IsError {
		t.Fatal("expected failed import to be reported as an error")
	}
	if !strings.Contains(resultText(r), importer.InvalidPackageMessage) {
		t.Errorf("result = %s", resultText(r))
	}
}

func TestUploadPackageDataURI(t *testing.T) {
	srv, dir := testServer(t)
	data, err := os.ReadFile(writePackage(t, dir))
	if err != nil {
		t.Fatal(err)
	}
	uri := "data:application/zip;base64," + base64.StdEncoding.EncodeToString(data)

	r := callTool(t, srv, "upload_package", map[string]interface{}{"url": uri, "filename": "shared deck.apkg"})
	if r.IsError {
		t.Fatalf("upload failed: %s", resultText(r))
	}
	var job jobs.Job
	if err := json.Unmarshal([]byte(resultText(r)), &job); err != nil {
		t.Fatal(err)
	}
	if job.Name != "shared_deck.apkg" {
		t.Errorf("name = %q", job.Name)
	}
}

func TestUploadPackageRejectsWrongContent(t *testing.T) {
	srv, _ := testServer(t)
	uri := "data:application/zip;base64," + base64.StdEncoding.EncodeToString([]byte("plain text"))
	r := callTool(t, srv, "upload_package", map[string]interface{}{"url": uri, "filename": "deck.apkg"})
	if !r.IsError {
		t.Error("expected magic byte mismatch to be rejected")
	}

	r = callTool(t, srv, "upload_package", map[string]interface{}{"url": uri, "filename": "deck.txt"})
	if !r.IsError {
		t.Error("expected unsupported extension to be rejected")
	}
}

func TestUploadPackageBlocksLoopback(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "upload_package", map[string]interface{}{"url": "http://127.0.0.1:1/deck.apkg"})
	if !r.IsError || !strings.Contains(resultText(r), "blocked host") {
		t.Errorf("loopback fetch = %s", resultText(r))
	}
}

func TestImportStatusListsJobs(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "import_status", map[string]interface{}{})
	if strings.TrimSpace(resultText(r)) != "[]" {
		t.Errorf("empty list = %q", resultText(r))
	}

	r = callTool(t, srv, "import_status", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for unknown job")
	}
}

func TestGetImportGuide(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_import_guide", nil)
	if !strings.Contains(resultText(r), "# Import Guide") {
		t.Error("guide missing")
	}
}
