package config

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/podstats/internal/domain"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
	// ErrCodeMissingCredentials 表示 client_id / client_secret 缺失。
	ErrCodeMissingCredentials = domain.ErrCodeConfigMissingCred
	// ErrCodeMissingIDs 表示没有任何种子节目 ID。
	ErrCodeMissingIDs = domain.ErrCodeConfigMissingIDs
)

const (
	DefaultFileName        = "podstats.json"
	DefaultTokenURL        = "https://accounts.spotify.com/api/token"
	DefaultAPIBaseURL      = "https://api.spotify.com/v1"
	DefaultShowPageBaseURL = "https://open.spotify.com/show/"
	DefaultSearchQuery     = "product management"
	DefaultSearchLimit     = 40
	DefaultMarket          = "US"
	DefaultEpisodeLimit    = 10
	DefaultRefreshEvery    = 20
	DefaultOutput          = "podcasts.csv"
	DefaultTimeoutSeconds  = 30
	DefaultRatingWait      = 10 * time.Second
)

// DefaultSearchOffsets 是关键词搜索的两页偏移。
var DefaultSearchOffsets = []int{0, 40}

// CLIArgs 是 CLI 层（flag + 环境变量）收集到的入口参数；*Set 字段保留“是否显式指定”。
// 这能保证覆盖优先级可实现：例如 --search=false 必须能覆盖 search.enabled=true。
type CLIArgs struct {
	ConfigPath string

	ClientID     string
	ClientSecret string

	ShowIDs []string
	IDsFile string

	Output    string
	SQLite    string
	ProxyURL  string
	Query     string
	QuerySet  bool
	LogLevel  string
	TimeoutS  int
	TimeoutOK bool

	Search    bool
	SearchSet bool

	ProcessExtra    bool
	ProcessExtraSet bool

	ScrapeRatings    bool
	ScrapeRatingsSet bool

	// 子命令不需要的校验可以跳过：search 允许没有种子，rating 不需要凭据。
	AllowMissingIDs         bool
	AllowMissingCredentials bool
}

// FileConfig 对应 podstats.json / podstats.yaml 的解析结构。
type FileConfig struct {
	ClientID        string         `json:"client_id" yaml:"client_id"`
	ClientSecret    string         `json:"client_secret" yaml:"client_secret"`
	TokenURL        string         `json:"token_url" yaml:"token_url"`
	APIBaseURL      string         `json:"api_base_url" yaml:"api_base_url"`
	ShowPageBaseURL string         `json:"show_page_base_url" yaml:"show_page_base_url"`
	ShowIDs         []string       `json:"show_ids" yaml:"show_ids"`
	IDsFile         string         `json:"ids_file" yaml:"ids_file"`
	Search          *SearchConfig  `json:"search" yaml:"search"`
	EpisodeLimit    int            `json:"episode_limit" yaml:"episode_limit"`
	RefreshEvery    int            `json:"refresh_every" yaml:"refresh_every"`
	Output          string         `json:"output" yaml:"output"`
	SQLite          string         `json:"sqlite" yaml:"sqlite"`
	Proxy           *ProxyConfig   `json:"proxy" yaml:"proxy"`
	TimeoutSeconds  *int           `json:"timeout_seconds" yaml:"timeout_seconds"`
	Ratings         *RatingsConfig `json:"ratings" yaml:"ratings"`
	LogLevel        string         `json:"log_level" yaml:"log_level"`
}

type SearchConfig struct {
	Enabled      *bool  `json:"enabled" yaml:"enabled"`
	Query        string `json:"query" yaml:"query"`
	Offsets      []int  `json:"offsets" yaml:"offsets"`
	Limit        int    `json:"limit" yaml:"limit"`
	Market       string `json:"market" yaml:"market"`
	ProcessExtra bool   `json:"process_extra" yaml:"process_extra"`
}

type ProxyConfig struct {
	URL string `json:"url" yaml:"url"`
}

type RatingsConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	WaitSeconds int  `json:"wait_seconds" yaml:"wait_seconds"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	ClientID     string
	ClientSecret string

	TokenURL        string
	APIBaseURL      string
	ShowPageBaseURL string

	// ShowIDs 是种子列表：保持顺序，不去重。
	ShowIDs []domain.ShowID

	SearchEnabled bool
	SearchQuery   string
	SearchOffsets []int
	SearchLimit   int
	Market        string
	ProcessExtra  bool

	EpisodeLimit int
	RefreshEvery int

	Output string
	SQLite string

	ProxyURL string
	Timeout  time.Duration

	ScrapeRatings bool
	RatingWait    time.Duration

	LogLevel string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingCredentials:
		return fmt.Sprintf("%s：缺少 client_id / client_secret（配置文件、--client-id/--client-secret 或环境变量）", e.Code)
	case ErrCodeMissingIDs:
		return fmt.Sprintf("%s：没有任何节目 ID（show_ids、ids_file 或命令行参数）", e.Code)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在；按扩展名选择 JSON 或 YAML
// 2) 否则尝试 <cwd>/podstats.json（可选，不存在不报错）
//
// 覆盖优先级（固定）：CLI（含环境变量）> 配置文件 > 内置默认。
// 种子 ID = 配置 show_ids + ids_file 内容 + CLI 位置参数（按此顺序拼接，不去重）。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, DefaultFileName)
		fc, _, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	}

	// 配置文件里的相对路径以配置文件所在目录为基准；CLI 的相对路径以 cwd 为基准。
	cfgDir := filepath.Dir(cfgPath)
	return merge(cwdAbs, cfgDir, cli, fc, cfgPath)
}

func merge(cwdAbs, cfgDir string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	eff := EffectiveConfig{
		ClientID:        firstNonEmpty(cli.ClientID, fc.ClientID),
		ClientSecret:    firstNonEmpty(cli.ClientSecret, fc.ClientSecret),
		TokenURL:        firstNonEmpty(fc.TokenURL, DefaultTokenURL),
		APIBaseURL:      strings.TrimRight(firstNonEmpty(fc.APIBaseURL, DefaultAPIBaseURL), "/"),
		ShowPageBaseURL: firstNonEmpty(fc.ShowPageBaseURL, DefaultShowPageBaseURL),
		SearchEnabled:   true,
		SearchQuery:     DefaultSearchQuery,
		SearchOffsets:   append([]int(nil), DefaultSearchOffsets...),
		SearchLimit:     DefaultSearchLimit,
		Market:          DefaultMarket,
		EpisodeLimit:    DefaultEpisodeLimit,
		RefreshEvery:    DefaultRefreshEvery,
		Timeout:         DefaultTimeoutSeconds * time.Second,
		RatingWait:      DefaultRatingWait,
		LogLevel:        firstNonEmpty(cli.LogLevel, fc.LogLevel, "info"),
	}

	if !cli.AllowMissingCredentials && (eff.ClientID == "" || eff.ClientSecret == "") {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingCredentials, Path: cfgPath}
	}

	for name, raw := range map[string]string{
		"token_url":          eff.TokenURL,
		"api_base_url":       eff.APIBaseURL,
		"show_page_base_url": eff.ShowPageBaseURL,
	} {
		if err := validateHTTPURL(raw); err != nil {
			return EffectiveConfig{}, invalid("%s 无效：%v", name, err)
		}
	}

	// search：CLI > config > 默认（启用，但不处理 extra）
	if s := fc.Search; s != nil {
		if s.Enabled != nil {
			eff.SearchEnabled = *s.Enabled
		}
		if strings.TrimSpace(s.Query) != "" {
			eff.SearchQuery = strings.TrimSpace(s.Query)
		}
		if s.Offsets != nil {
			eff.SearchOffsets = append([]int(nil), s.Offsets...)
		}
		if s.Limit != 0 {
			eff.SearchLimit = s.Limit
		}
		if strings.TrimSpace(s.Market) != "" {
			eff.Market = strings.TrimSpace(s.Market)
		}
		eff.ProcessExtra = s.ProcessExtra
	}
	if cli.SearchSet {
		eff.SearchEnabled = cli.Search
	}
	if cli.QuerySet {
		eff.SearchQuery = strings.TrimSpace(cli.Query)
	}
	if cli.ProcessExtraSet {
		eff.ProcessExtra = cli.ProcessExtra
	}
	if eff.SearchEnabled && eff.SearchQuery == "" {
		return EffectiveConfig{}, invalid("search.query 不能为空")
	}
	// catalog API 的 search limit 上限为 50。
	if eff.SearchLimit < 1 || eff.SearchLimit > 50 {
		return EffectiveConfig{}, invalid("search.limit 必须在 [1, 50]，实际是 %d", eff.SearchLimit)
	}
	for _, off := range eff.SearchOffsets {
		if off < 0 {
			return EffectiveConfig{}, invalid("search.offsets 不能为负：%v", eff.SearchOffsets)
		}
	}

	if fc.EpisodeLimit != 0 {
		eff.EpisodeLimit = fc.EpisodeLimit
	}
	if eff.EpisodeLimit < 1 || eff.EpisodeLimit > 50 {
		return EffectiveConfig{}, invalid("episode_limit 必须在 [1, 50]，实际是 %d", eff.EpisodeLimit)
	}
	if fc.RefreshEvery != 0 {
		eff.RefreshEvery = fc.RefreshEvery
	}
	if eff.RefreshEvery < 1 {
		return EffectiveConfig{}, invalid("refresh_every 必须 >= 1，实际是 %d", eff.RefreshEvery)
	}

	// output：CLI 相对 cwd；配置文件相对配置目录。
	switch {
	case strings.TrimSpace(cli.Output) != "":
		eff.Output = absCleanFrom(cwdAbs, cli.Output)
	case strings.TrimSpace(fc.Output) != "":
		eff.Output = absCleanFrom(cfgDir, fc.Output)
	default:
		eff.Output = absCleanFrom(cwdAbs, DefaultOutput)
	}
	switch {
	case strings.TrimSpace(cli.SQLite) != "":
		eff.SQLite = absCleanFrom(cwdAbs, cli.SQLite)
	case strings.TrimSpace(fc.SQLite) != "":
		eff.SQLite = absCleanFrom(cfgDir, fc.SQLite)
	}

	proxyURL := strings.TrimSpace(cli.ProxyURL)
	if proxyURL == "" && fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		if err := validateProxyURL(proxyURL); err != nil {
			return EffectiveConfig{}, invalid("proxy.url 无效：%w", err)
		}
	}
	eff.ProxyURL = proxyURL

	timeoutS := DefaultTimeoutSeconds
	if fc.TimeoutSeconds != nil {
		timeoutS = *fc.TimeoutSeconds
	}
	if cli.TimeoutOK {
		timeoutS = cli.TimeoutS
	}
	if timeoutS < 0 {
		return EffectiveConfig{}, invalid("timeout_seconds 不能为负：%d", timeoutS)
	}
	// 0 表示不设超时（与原始行为一致，但不推荐）。
	eff.Timeout = time.Duration(timeoutS) * time.Second

	if r := fc.Ratings; r != nil {
		eff.ScrapeRatings = r.Enabled
		if r.WaitSeconds > 0 {
			eff.RatingWait = time.Duration(r.WaitSeconds) * time.Second
		}
	}
	if cli.ScrapeRatingsSet {
		eff.ScrapeRatings = cli.ScrapeRatings
	}

	ids, err := collectIDs(cwdAbs, cfgDir, cli, fc)
	if err != nil {
		return EffectiveConfig{}, invalid("%v", err)
	}
	if len(ids) == 0 && !cli.AllowMissingIDs {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingIDs, Path: cfgPath}
	}
	eff.ShowIDs = ids

	return eff, nil
}

func collectIDs(cwdAbs, cfgDir string, cli CLIArgs, fc FileConfig) ([]domain.ShowID, error) {
	var raw []string
	raw = append(raw, fc.ShowIDs...)

	if strings.TrimSpace(fc.IDsFile) != "" {
		xs, err := ReadIDsFile(absCleanFrom(cfgDir, fc.IDsFile))
		if err != nil {
			return nil, err
		}
		raw = append(raw, xs...)
	}
	if strings.TrimSpace(cli.IDsFile) != "" {
		xs, err := ReadIDsFile(absCleanFrom(cwdAbs, cli.IDsFile))
		if err != nil {
			return nil, err
		}
		raw = append(raw, xs...)
	}
	raw = append(raw, cli.ShowIDs...)

	out := make([]domain.ShowID, 0, len(raw))
	for _, s := range raw {
		id, ok := domain.ParseShowID(s)
		if !ok {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// ReadIDsFile 读取每行一个 ID 的文本文件；空行与 '#' 开头的行被忽略。
func ReadIDsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("读取 ids_file 失败：%w", err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("读取 ids_file 失败：%w", err)
	}
	return out, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("缺少 host：%q", raw)
	}
	return nil
}

// validateProxyURL 要求 scheme 与 host 都存在；"localhost:3128" 会被 url.Parse 当成 scheme=localhost。
func validateProxyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("缺少 scheme 或 host：%q", raw)
	}
	return nil
}

func firstNonEmpty(xs ...string) string {
	for _, s := range xs {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析配置文件（.yaml/.yml 走 YAML，其余走 JSON）。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = json.Unmarshal(b, &fc)
	}
	if err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
