package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/John-Robertt/podstats/internal/app/run"
	"github.com/John-Robertt/podstats/internal/auth"
	"github.com/John-Robertt/podstats/internal/catalog"
	"github.com/John-Robertt/podstats/internal/config"
	"github.com/John-Robertt/podstats/internal/domain"
	"github.com/John-Robertt/podstats/internal/infra/httpx"
	"github.com/John-Robertt/podstats/internal/rating"
)

func makeSearchCMD() cli.Command {
	searchCmd := cli.Command{
		Name:      "search",
		Usage:     "只执行关键词搜索，逐行打印种子之外的节目 ID",
		ArgsUsage: "[show-id ...]",
		Action:    searchAction,
	}
	searchCmd.Flags = registerConfigFlags(searchCmd.Flags)
	searchCmd.Flags = append(searchCmd.Flags,
		cli.StringFlag{
			Name:   queryFlag,
			Usage:  "搜索关键词",
			EnvVar: "PODSTATS_QUERY",
		},
	)
	return searchCmd
}

func searchAction(c *cli.Context) error {
	args := cliArgs(c)
	args.AllowMissingIDs = true

	eff, err := loadForCommand(args)
	if err != nil {
		return err
	}

	cl, err := httpx.NewAPIClient(eff.ProxyURL, eff.Timeout)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := &auth.Provider{
		TokenURL:     eff.TokenURL,
		ClientID:     eff.ClientID,
		ClientSecret: eff.ClientSecret,
		HTTPClient:   cl,
	}
	token, err := tokens.Acquire(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	cat := catalog.New(eff.APIBaseURL, cl)
	cat.Market = eff.Market
	cat.SearchLimit = eff.SearchLimit

	extra := run.SearchExtra(ctx, cat, eff.SearchQuery, token, eff.ShowIDs, eff.SearchOffsets)
	log.WithFields(log.Fields{
		"query": eff.SearchQuery,
		"seeds": len(eff.ShowIDs),
		"extra": len(extra),
	}).Info("搜索完成")
	for _, id := range extra {
		fmt.Fprintln(os.Stdout, id)
	}
	return nil
}

func makeRatingCMD() cli.Command {
	ratingCmd := cli.Command{
		Name:      "rating",
		Usage:     "用无头浏览器抓取节目页面上的评分（不需要 API 凭据）",
		ArgsUsage: "show-id [show-id ...]",
		Action:    ratingAction,
	}
	ratingCmd.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   configFlag,
			Usage:  "配置文件路径（.json/.yaml）",
			EnvVar: "PODSTATS_CONFIG",
		},
		cli.StringFlag{
			Name:   proxyFlag,
			Usage:  "HTTP 代理地址",
			EnvVar: "PODSTATS_PROXY",
		},
	}
	return ratingCmd
}

func ratingAction(c *cli.Context) error {
	args := config.CLIArgs{
		ConfigPath:              c.String(configFlag),
		ProxyURL:                c.String(proxyFlag),
		ShowIDs:                 []string(c.Args()),
		AllowMissingIDs:         true,
		AllowMissingCredentials: true,
	}
	eff, err := loadForCommand(args)
	if err != nil {
		return err
	}
	// rating 只看命令行给出的 ID；配置文件里的种子列表可能有几十个。
	ids := make([]domain.ShowID, 0, len(c.Args()))
	for _, raw := range c.Args() {
		if id, ok := domain.ParseShowID(raw); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return cli.NewExitError("至少需要一个节目 ID", 2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := rating.NewBrowser(ctx, eff.ShowPageBaseURL, eff.ProxyURL, eff.RatingWait)
	if err != nil {
		return cli.NewExitError(errors.Wrap(err, "启动无头浏览器失败").Error(), 1)
	}
	defer b.Close()

	for _, id := range ids {
		r := rating.Scrape(ctx, b, id)
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", id, r.Average, r.Raters)
	}
	return nil
}

func loadForCommand(args config.CLIArgs) (config.EffectiveConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, errors.Wrap(err, "读取当前目录失败")
	}
	eff, err := config.LoadEffective(cwd, args)
	if err != nil {
		return config.EffectiveConfig{}, cli.NewExitError(fmt.Sprintf("%s: %v", config.Code(err), err), 2)
	}
	applyLogLevel(eff.LogLevel)
	return eff, nil
}
