package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/podstats/internal/domain"
)

func fakeCatalogServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/shows/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		rest := strings.TrimPrefix(r.URL.Path, "/v1/shows/")
		id, sub, _ := strings.Cut(rest, "/")
		if sub == "episodes" {
			_, _ = w.Write([]byte(`{"items":[
				{"name":"e1","duration_ms":60000,"release_date":"2024-01-03","release_date_precision":"day"},
				{"name":"e2","duration_ms":60000,"release_date":"2024-01-01","release_date_precision":"day"}
			]}`))
			return
		}
		fmt.Fprintf(w, `{"id":%q,"name":"Show %s","description":"d","copyrights":[],"languages":["en"],
			"explicit":true,"publisher":"P","is_externally_hosted":false,"total_episodes":2}`, id, id)
	})
	return httptest.NewServer(mux)
}

// writeRunConfig 在 root 下写一个指向 srv 的配置文件，extra 会拼进 JSON 顶层。
func writeRunConfig(t *testing.T, root string, srv *httptest.Server, extra string) string {
	t.Helper()
	cfg := fmt.Sprintf(`{
		"client_id":"id","client_secret":"secret",
		"token_url":%q,"api_base_url":%q,
		"show_ids":["s1","s2"],
		"search":{"enabled":false},
		%s
		"output":"podcasts.csv"
	}`, srv.URL+"/api/token", srv.URL+"/v1", extra)
	cfgPath := filepath.Join(root, "podstats.json")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	return cfgPath
}

func runCLI(t *testing.T, args ...string) (stdout, stderr bytes.Buffer, err error) {
	t.Helper()
	wd, werr := os.Getwd()
	if werr != nil {
		t.Fatalf("读取 cwd 失败：%v", werr)
	}
	repoRoot := filepath.Clean(filepath.Join(wd, "..", ".."))

	cmd := exec.Command("go", append([]string{"run", "./cmd/podstats"}, args...)...)
	cmd.Dir = repoRoot
	cmd.Env = append(os.Environ(), "PODSTATS_CLIENT_ID=", "SPOTIFY_CLIENT_ID=", "PODSTATS_CLIENT_SECRET=", "SPOTIFY_CLIENT_SECRET=")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	return stdout, stderr, err
}

func TestCLI_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	// stdout 非 TTY 时只能输出一个 RunReport JSON（进度/配置必须走 stderr 或直接禁用）。
	srv := fakeCatalogServer()
	defer srv.Close()

	root := t.TempDir()
	cfgPath := writeRunConfig(t, root, srv, "")

	stdout, stderr, err := runCLI(t, "run", "--config", cfgPath)
	if err != nil {
		t.Fatalf("命令执行失败：%v\nstderr=%s\nstdout=%s", err, stderr.String(), stdout.String())
	}

	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rr.Summary.Rows != 2 || rr.Summary.Failed != 0 {
		t.Fatalf("summary 不正确：%+v", rr.Summary)
	}
	if strings.Contains(stdout.String(), "配置（生效）") || strings.Contains(stdout.String(), "进度:") {
		t.Fatalf("stdout 不应包含进度/配置输出：%q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "完成：processed=") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}

	b, err := os.ReadFile(filepath.Join(root, "podcasts.csv"))
	if err != nil {
		t.Fatalf("读取 CSV 失败：%v", err)
	}
	if !strings.HasPrefix(string(b), strings.Join(domain.Columns(), ",")) {
		t.Fatalf("CSV 表头不正确：%q", string(b))
	}
}

func TestCLI_BadSQLitePath_StillWritesCSVAndReport(t *testing.T) {
	srv := fakeCatalogServer()
	defer srv.Close()

	root := t.TempDir()
	cfgPath := writeRunConfig(t, root, srv, `"sqlite":"missing/dir/podstats.db",`)

	stdout, stderr, err := runCLI(t, "run", "--config", cfgPath)
	var ee *exec.ExitError
	if !errors.As(err, &ee) || ee.ExitCode() != 1 {
		t.Fatalf("期望退出码 1，实际 err=%v\nstderr=%s", err, stderr.String())
	}

	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rr.Summary.Rows != 2 {
		t.Fatalf("节目仍应全部处理：%+v", rr.Summary)
	}
	found := false
	for _, it := range rr.Items {
		if it.ShowID == "" && it.ErrorCode == domain.ErrCodeWriteFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("期望一条 write_failed 条目：%+v", rr.Items)
	}
	if len(rr.Outputs) != 1 || rr.Outputs[0] != filepath.Join(root, "podcasts.csv") {
		t.Fatalf("CSV 应照常写出：%v", rr.Outputs)
	}
	if _, err := os.Stat(filepath.Join(root, "podcasts.csv")); err != nil {
		t.Fatalf("CSV 不存在：%v", err)
	}
}

func TestCLI_ProxyWithoutScheme_ConfigInvalidReport(t *testing.T) {
	srv := fakeCatalogServer()
	defer srv.Close()

	root := t.TempDir()
	cfgPath := writeRunConfig(t, root, srv, `"proxy":{"url":"localhost:3128"},`)

	stdout, stderr, err := runCLI(t, "run", "--config", cfgPath)
	var ee *exec.ExitError
	if !errors.As(err, &ee) || ee.ExitCode() != 1 {
		t.Fatalf("期望退出码 1，实际 err=%v\nstderr=%s", err, stderr.String())
	}
	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeConfigInvalid {
		t.Fatalf("期望 config_invalid，实际 %+v", rr.Items)
	}
}
