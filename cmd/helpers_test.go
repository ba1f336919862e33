// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/config"
	"github.com/wyatt727/BSTI/internal/observability"
)

// resetForTest puts the process-wide logger into a known quiet state. The
// command hooks call InitializeLogger again, which is a no-op after this,
// so command output stays assertable. Tests that use it must not run in
// parallel with each other.
func resetForTest(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
}

// executeCommand runs a fresh command tree against the given arguments and
// returns everything written to its output streams.
func executeCommand(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// Four parseable rows: two SSH checks that classify into the SSH category,
// one uncategorized check, and one informational row that sits below the
// default severity floor.
const exportCSV = `Plugin ID,CVE,Risk,Host,Protocol,Port,Name,Description,Solution,See Also,Plugin Output
10881,CVE-2008-5161,High,10.0.0.1,tcp,22,SSH Weak Key Exchange,The server allows weak key exchange algorithms.,Disable weak key exchange algorithms.,https://example.test/kex,kex: diffie-hellman-group1-sha1
10881,,Medium,10.0.0.2,tcp,22,SSH Weak MAC Algorithms,The server allows weak MAC algorithms.,Disable weak MAC algorithms.,,mac: hmac-md5
99999,,Low,10.0.0.3,tcp,443,Standalone Service Issue,A service-specific weakness.,Reconfigure the service.,,observed banner
11111,,None,10.0.0.4,tcp,80,Informational Noise,Version disclosure only.,,,
`

const categoryMapJSON = `{
    "plugins": {
        "SSH": {
            "writeup_name": "SSH Misconfigurations",
            "description": "<p>Weak SSH settings were identified on in-scope hosts.</p>",
            "recommendations": "<p>Harden the SSH configuration.</p>",
            "ids": ["10881"]
        },
        "TLS": {
            "writeup_name": "TLS Misconfigurations",
            "ids": ["20007"],
            "primary_keywords": ["tls", "certificate"]
        }
    }
}
`

// testEnv is a self-contained run environment: config file, category map,
// export file and ledger path, all inside one temp dir.
type testEnv struct {
	Dir        string
	ConfigPath string
	ExportPath string
	MapPath    string
	LedgerPath string
}

// newTestEnv lays the fixtures out on disk. The config points the platform
// client at baseURL and keeps every path inside the temp dir.
func newTestEnv(t *testing.T, baseURL string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "config.yaml"),
		ExportPath: filepath.Join(dir, "export.csv"),
		MapPath:    filepath.Join(dir, "N2P_config.json"),
		LedgerPath: filepath.Join(dir, "ledger.json"),
	}
	writeTestFile(t, env.ExportPath, exportCSV)
	writeTestFile(t, env.MapPath, categoryMapJSON)
	writeTestFile(t, env.ConfigPath, fmt.Sprintf(`logger:
    level: fatal
platform:
    base_url: %q
    username: tester
    password: hunter2
    client_id: client-1
    report_id: report-9
ledger:
    backend: file
    path: %q
pipeline:
    category_map: %q
`, baseURL, env.LedgerPath, env.MapPath))
	return env
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// readLedger decodes the file ledger, a JSON object keyed by flaw key.
func readLedger(t *testing.T, path string) map[string]schemas.UploadRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	records := make(map[string]schemas.UploadRecord)
	require.NoError(t, jsoniter.Unmarshal(data, &records))
	return records
}

// readSummary decodes a JSON report file.
func readSummary(t *testing.T, path string) schemas.RunSummary {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var summary schemas.RunSummary
	require.NoError(t, jsoniter.Unmarshal(data, &summary))
	return summary
}

// platformServer fakes the reporting platform for command-level tests. It
// serves the endpoints the pipeline touches and keeps counters for
// assertions about what a run actually sent.
type platformServer struct {
	*httptest.Server

	mu        sync.Mutex
	requests  int
	authCalls int
	nextID    int
	created   map[string]string // remote id -> title
	updates   map[string]int    // remote id -> update count
	failTitle string            // creates with this title are rejected
}

func newPlatformServer(t *testing.T) *platformServer {
	t.Helper()
	ps := &platformServer{
		created: make(map[string]string),
		updates: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/authenticate", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.authCalls++
		ps.mu.Unlock()
		fmt.Fprint(w, `{"token": "session-token"}`)
	})
	mux.HandleFunc("POST /api/v1/client/client-1/report/report-9/flaw", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Title string `json:"title"`
		}
		if err := jsoniter.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ps.mu.Lock()
		defer ps.mu.Unlock()
		if ps.failTitle != "" && payload.Title == ps.failTitle {
			http.Error(w, `{"error": "forbidden"}`, http.StatusForbidden)
			return
		}
		ps.nextID++
		id := fmt.Sprintf("remote-%d", ps.nextID)
		ps.created[id] = payload.Title
		fmt.Fprintf(w, `{"flaw_id": %q}`, id)
	})
	mux.HandleFunc("PUT /api/v1/client/client-1/report/report-9/flaw/{id}", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.updates[r.PathValue("id")]++
		ps.mu.Unlock()
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("GET /api/v1/client/client-1/report/report-9/flaws", func(w http.ResponseWriter, r *http.Request) {
		type remoteFlaw struct {
			FlawID string `json:"flaw_id"`
			Title  string `json:"title"`
		}
		ps.mu.Lock()
		resp := struct {
			Flaws []remoteFlaw `json:"flaws"`
		}{Flaws: make([]remoteFlaw, 0, len(ps.created))}
		for id, title := range ps.created {
			resp.Flaws = append(resp.Flaws, remoteFlaw{FlawID: id, Title: title})
		}
		ps.mu.Unlock()
		data, err := jsoniter.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(data)
	})

	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.requests++
		ps.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(ps.Close)
	return ps
}

// counters returns a consistent snapshot for assertions.
func (ps *platformServer) counters() (requests, authCalls, created int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.requests, ps.authCalls, len(ps.created)
}

func (ps *platformServer) createdTitles() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	titles := make([]string, 0, len(ps.created))
	for _, title := range ps.created {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	return titles
}

func (ps *platformServer) updateCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	n := 0
	for _, c := range ps.updates {
		n += c
	}
	return n
}

// rejectTitle makes create calls for the given title fail with a 403 until
// cleared with an empty string.
func (ps *platformServer) rejectTitle(title string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.failTitle = title
}

// deleteByTitle drops a flaw server-side, simulating an operator removing it
// through the platform UI.
func (ps *platformServer) deleteByTitle(title string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for id, existing := range ps.created {
		if existing == title {
			delete(ps.created, id)
			return true
		}
	}
	return false
}
