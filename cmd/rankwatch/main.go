package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rankwatch/rankwatch/internal/bot"
	"github.com/rankwatch/rankwatch/internal/config"
	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/netutil"
	"github.com/rankwatch/rankwatch/internal/oauth"
	"github.com/rankwatch/rankwatch/internal/osuapi"
	"github.com/rankwatch/rankwatch/internal/pipeline"
	"github.com/rankwatch/rankwatch/internal/schedule"
	"github.com/rankwatch/rankwatch/internal/store"
	"github.com/rankwatch/rankwatch/internal/trackapi"
)

// beatmapCacheSize bounds the shared beatmap cache. One run touches at most
// a few hundred distinct maps; the bound only matters across long uptimes.
const beatmapCacheSize = 4096

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the JSON config file")
	flag.Parse()

	// 1. Load config, or run first-time setup and exit.
	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		if _, err := config.RunSetup(os.Stdin, os.Stdout, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	// 2. Open stores.
	rankingsStore, err := store.OpenRankingsStore(cfg.RankingsDBFilePath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	defer rankingsStore.Close()

	topPlaysStore, err := store.OpenTopPlaysStore(cfg.TopPlaysDBFilePath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	defer topPlaysStore.Close()

	subsStore, err := store.OpenSubscriptionsStore(cfg.BotConfigDBFilePath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	defer subsStore.Close()

	// 3. Shared upstream plumbing: one token manager and one beatmap cache
	// behind per-worker requesters and clients.
	tokens := oauth.NewManager(oauth.Config{
		Requester:    netutil.NewRequester(),
		ClientID:     cfg.OsuClientID,
		ClientSecret: cfg.OsuClientSecret,
	})
	if err := tokens.UpdateAccessToken(context.Background()); err != nil {
		log.Fatalf("fatal: initial token fetch: %v", err)
	}
	beatmaps := osuapi.NewBeatmapCache(beatmapCacheSize)

	newOsuClient := func() *osuapi.Client {
		return osuapi.NewClient(osuapi.Config{
			Requester: netutil.NewRequester(),
			Tokens:    tokens,
			Beatmaps:  beatmaps,
		})
	}
	track := trackapi.NewClient(trackapi.Config{Requester: netutil.NewRequester()})

	// 4. Pipelines and the bot boundary.
	rankingsPipeline := pipeline.NewRankings(pipeline.RankingsConfig{
		Store:     rankingsStore,
		NewClient: func() pipeline.RankingsClient { return newOsuClient() },
		Workers:   cfg.ThreadCount,
	})
	topPlaysPipeline := pipeline.NewTopPlays(pipeline.TopPlaysConfig{
		Store:     topPlaysStore,
		Track:     track,
		NewClient: func() pipeline.TopPlaysClient { return newOsuClient() },
		Workers:   cfg.ThreadCount,
	})

	botSvc := bot.NewService(bot.Config{
		Rankings:      rankingsStore,
		TopPlays:      topPlaysStore,
		Subscriptions: subsStore,
		Publish:       logPublisher,
		Strings:       cfg.DiscordBotStrings,
	})

	// 5. Scheduled jobs.
	ctx := context.Background()
	rankingsJob := schedule.NewDailyJob("rankings scrape", cfg.ScrapeRankingsRunHour,
		func() error { return rankingsPipeline.Run(ctx) },
		botSvc.OnScrapeRankingsComplete)
	topPlaysJob := schedule.NewDailyJob("top plays", cfg.TopPlaysRunHour,
		func() error { return topPlaysPipeline.Run(ctx) },
		botSvc.OnTopPlaysComplete)

	maintenance, err := schedule.NewMaintenance(cfg.MaintenanceSchedule, rankingsStore, topPlaysStore)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	rankingsJob.Start()
	topPlaysJob.Start()
	maintenance.Start()
	log.Printf("rankwatch started: rankings at %02d:00, top plays at %02d:00, %d workers",
		cfg.ScrapeRankingsRunHour, cfg.TopPlaysRunHour, cfg.ThreadCount)

	// 6. Graceful shutdown: interrupt the sleeps, let running jobs finish.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("received signal %s, shutting down...", sig)

	maintenance.Stop()
	rankingsJob.Stop()
	topPlaysJob.Stop()
	log.Println("rankwatch stopped")
}

// logPublisher stands in for the chat transport: digests land in the log.
// Wiring a real Discord session means swapping this one function.
func logPublisher(channel model.ChannelID, message string) error {
	log.Printf("[publish] channel %d:\n%s", channel, message)
	return nil
}
