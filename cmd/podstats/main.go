package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/John-Robertt/podstats/internal/app/run"
	"github.com/John-Robertt/podstats/internal/auth"
	"github.com/John-Robertt/podstats/internal/catalog"
	"github.com/John-Robertt/podstats/internal/config"
	"github.com/John-Robertt/podstats/internal/domain"
	"github.com/John-Robertt/podstats/internal/infra/httpx"
	"github.com/John-Robertt/podstats/internal/output/csvout"
	"github.com/John-Robertt/podstats/internal/output/sqlitex"
	"github.com/John-Robertt/podstats/internal/rating"
)

const (
	configFlag        = "config"
	clientIDFlag      = "client-id"
	clientSecretFlag  = "client-secret"
	idsFileFlag       = "ids-file"
	proxyFlag         = "proxy"
	timeoutFlag       = "timeout"
	logLevelFlag      = "log-level"
	outputFlag        = "output"
	sqliteFlag        = "sqlite"
	searchFlag        = "search"
	queryFlag         = "query"
	processExtraFlag  = "process-extra"
	scrapeRatingsFlag = "scrape-ratings"
)

func main() {
	app := cli.NewApp()
	app.Name = "podstats"
	app.Usage = "拉取播客节目的元数据与单集统计，写出 CSV"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   logLevelFlag,
			Usage:  "日志级别：debug|info|warn|error",
			EnvVar: "PODSTATS_LOG_LEVEL",
			Value:  "info",
		},
	}
	app.Before = configureLogging
	app.Commands = []cli.Command{
		makeRunCMD(),
		makeSearchCMD(),
		makeRatingCMD(),
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("运行失败")
		os.Exit(1)
	}
}

func configureLogging(c *cli.Context) error {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	lvl, err := log.ParseLevel(c.String(logLevelFlag))
	if err != nil {
		return errors.Wrapf(err, "无效的 --%s", logLevelFlag)
	}
	log.SetLevel(lvl)
	return nil
}

func registerConfigFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.StringFlag{
			Name:   configFlag,
			Usage:  "配置文件路径（.json/.yaml）；不指定时尝试 ./podstats.json",
			EnvVar: "PODSTATS_CONFIG",
		},
		cli.StringFlag{
			Name:   clientIDFlag,
			Usage:  "catalog API client id",
			EnvVar: "PODSTATS_CLIENT_ID,SPOTIFY_CLIENT_ID",
		},
		cli.StringFlag{
			Name:   clientSecretFlag,
			Usage:  "catalog API client secret",
			EnvVar: "PODSTATS_CLIENT_SECRET,SPOTIFY_CLIENT_SECRET",
		},
		cli.StringFlag{
			Name:   idsFileFlag,
			Usage:  "额外的节目 ID 文件（每行一个，# 开头为注释）",
			EnvVar: "PODSTATS_IDS_FILE",
		},
		cli.StringFlag{
			Name:   proxyFlag,
			Usage:  "HTTP 代理地址",
			EnvVar: "PODSTATS_PROXY",
		},
		cli.IntFlag{
			Name:   timeoutFlag,
			Usage:  "单次请求超时（秒），0 表示不设上限",
			EnvVar: "PODSTATS_TIMEOUT",
			Value:  config.DefaultTimeoutSeconds,
		},
	)
}

func makeRunCMD() cli.Command {
	runCmd := cli.Command{
		Name:      "run",
		Usage:     "抓取种子节目（及可选的搜索结果），写出 CSV",
		ArgsUsage: "[show-id ...]",
		Action:    runAction,
	}
	configureRun(&runCmd)
	return runCmd
}

func configureRun(c *cli.Command) {
	c.Flags = registerConfigFlags(c.Flags)
	c.Flags = append(c.Flags,
		cli.StringFlag{
			Name:   outputFlag + ", o",
			Usage:  "CSV 输出路径（默认 ./podcasts.csv）",
			EnvVar: "PODSTATS_OUTPUT",
		},
		cli.StringFlag{
			Name:   sqliteFlag,
			Usage:  "同时写入该 SQLite 数据库",
			EnvVar: "PODSTATS_SQLITE",
		},
		cli.BoolFlag{
			Name:  searchFlag,
			Usage: "按关键词搜索额外节目（--search=false 关闭）",
		},
		cli.StringFlag{
			Name:   queryFlag,
			Usage:  "搜索关键词",
			EnvVar: "PODSTATS_QUERY",
		},
		cli.BoolFlag{
			Name:  processExtraFlag,
			Usage: "同时处理搜索到的额外节目",
		},
		cli.BoolFlag{
			Name:   scrapeRatingsFlag,
			Usage:  "用无头浏览器抓取评分（慢，每个节目至少等待 ratings.wait_seconds）",
			EnvVar: "PODSTATS_SCRAPE_RATINGS",
		},
	)
}

func cliArgs(c *cli.Context) config.CLIArgs {
	return config.CLIArgs{
		ConfigPath:       c.String(configFlag),
		ClientID:         c.String(clientIDFlag),
		ClientSecret:     c.String(clientSecretFlag),
		ShowIDs:          []string(c.Args()),
		IDsFile:          c.String(idsFileFlag),
		Output:           c.String(outputFlag),
		SQLite:           c.String(sqliteFlag),
		ProxyURL:         c.String(proxyFlag),
		Query:            c.String(queryFlag),
		QuerySet:         c.IsSet(queryFlag),
		LogLevel:         explicitLogLevel(c),
		TimeoutS:         c.Int(timeoutFlag),
		TimeoutOK:        c.IsSet(timeoutFlag),
		Search:           c.Bool(searchFlag),
		SearchSet:        c.IsSet(searchFlag),
		ProcessExtra:     c.Bool(processExtraFlag),
		ProcessExtraSet:  c.IsSet(processExtraFlag),
		ScrapeRatings:    c.Bool(scrapeRatingsFlag),
		ScrapeRatingsSet: c.IsSet(scrapeRatingsFlag),
	}
}

// explicitLogLevel 只在显式指定时返回，让配置文件里的 log_level 有机会生效。
func explicitLogLevel(c *cli.Context) string {
	if c.GlobalIsSet(logLevelFlag) {
		return c.GlobalString(logLevelFlag)
	}
	return ""
}

func applyLogLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("log_level", level).Warn("无效的日志级别，保持当前级别")
		return
	}
	log.SetLevel(lvl)
}

func runAction(c *cli.Context) error {
	started := time.Now()

	cwd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "读取当前目录失败")
	}

	eff, err := config.LoadEffective(cwd, cliArgs(c))
	if err != nil {
		emitReport(reportForConfigError(err))
		return cli.NewExitError("", 1)
	}
	applyLogLevel(eff.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, eff)
	defer cleanup()
	if err != nil {
		emitReport(reportForConfigError(&config.Error{Code: config.ErrCodeInvalid, Err: err}))
		return cli.NewExitError("", 1)
	}

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		ui := newProgressUI(progressW)
		defer ui.Stop()
		obs = ui
	}

	_, rr := run.ExecuteWithObserver(ctx, eff, deps, obs)

	emitReport(rr)
	if !interactive {
		progressW = os.Stderr
	}
	emitLocations(progressW, rr, time.Since(started))
	if runFailed(rr) {
		return cli.NewExitError("", 1)
	}
	return nil
}

func buildDeps(ctx context.Context, eff config.EffectiveConfig) (run.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	cl, err := httpx.NewAPIClient(eff.ProxyURL, eff.Timeout)
	if err != nil {
		return run.Deps{}, cleanup, err
	}

	cat := catalog.New(eff.APIBaseURL, cl)
	cat.Market = eff.Market
	cat.SearchLimit = eff.SearchLimit

	deps := run.Deps{
		Tokens: &auth.Provider{
			TokenURL:     eff.TokenURL,
			ClientID:     eff.ClientID,
			ClientSecret: eff.ClientSecret,
			HTTPClient:   cl,
		},
		Catalog: cat,
		Sinks:   []run.Sink{csvout.Writer{Path: eff.Output}},
	}

	if eff.SQLite != "" {
		sink, closeStore := openSQLiteSink(eff.SQLite)
		closers = append(closers, closeStore)
		deps.Sinks = append(deps.Sinks, sink)
	}

	if eff.ScrapeRatings {
		b, err := rating.NewBrowser(ctx, eff.ShowPageBaseURL, eff.ProxyURL, eff.RatingWait)
		if err != nil {
			// 浏览器起不来时评分列全部为 N/A，不影响其它列。
			log.WithError(err).Warn("无头浏览器不可用，评分将写为 N/A")
			deps.Ratings = unavailableRenderer{err: err}
		} else {
			closers = append(closers, b.Close)
			deps.Ratings = b
		}
	}

	return deps, cleanup, nil
}

// openSQLiteSink 打开可选的 SQLite sink。打不开时返回 failedSink：
// 失败在写出阶段以 write_failed 呈现，CSV 照常写出。
func openSQLiteSink(path string) (run.Sink, func()) {
	store, err := sqlitex.Open(path)
	if err != nil {
		log.WithError(err).WithField("sqlite", path).Error("打开 SQLite 失败")
		return failedSink{target: path, err: err}, func() {}
	}
	closeStore := func() { _ = store.Close() }
	if err := store.InitSchema(); err != nil {
		log.WithError(err).WithField("sqlite", path).Error("初始化 SQLite 失败")
		return failedSink{target: path, err: err}, closeStore
	}
	return sqlitex.RunSink{Store: store, RunID: sqlitex.NewRunID()}, closeStore
}

// failedSink 是初始化失败的 sink，WriteRows 总是返回初始化时的错误。
type failedSink struct {
	target string
	err    error
}

func (f failedSink) Target() string { return f.target }

func (f failedSink) WriteRows(context.Context, domain.ResultSet) error { return f.err }

type unavailableRenderer struct{ err error }

func (u unavailableRenderer) RenderShowPage(context.Context, domain.ShowID) (string, error) {
	return "", u.err
}

// runFailed 只看合成条目（token/写出/取消）；单个节目失败属于部分成功。
func runFailed(rr domain.RunReport) bool {
	for _, it := range rr.Items {
		if it.ShowID == "" && it.Status == domain.StatusFailed {
			return true
		}
	}
	return false
}

func emitReport(rr domain.RunReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintf(os.Stdout, "完成：processed=%d failed=%d rows=%d\n",
			rr.Summary.Processed, rr.Summary.Failed, rr.Summary.Rows,
		)
		printFailures(os.Stderr, rr)
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintf(os.Stderr, "完成：processed=%d failed=%d rows=%d\n",
		rr.Summary.Processed, rr.Summary.Failed, rr.Summary.Rows,
	)
}

func printFailures(w io.Writer, rr domain.RunReport) {
	for _, it := range rr.Items {
		if it.Status != domain.StatusFailed {
			continue
		}
		key := it.ShowID
		if key == "" {
			key = "<run>"
		}
		fmt.Fprintf(w, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
	}
}

func reportForConfigError(err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: config.Code(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, rr domain.RunReport, total time.Duration) {
	if w == nil {
		return
	}
	for _, p := range rr.Outputs {
		if fi, err := os.Stat(p); err == nil {
			fmt.Fprintf(w, "out: %s (%s)\n", p, humanize.Bytes(uint64(fi.Size())))
			continue
		}
		fmt.Fprintf(w, "out: %s\n", filepath.Clean(p))
	}
	fmt.Fprintf(w, "总耗时：%.2f 秒\n", total.Seconds())
}
