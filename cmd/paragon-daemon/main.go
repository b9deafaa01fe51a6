package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Merkerhood/paragon/auth"
	"github.com/Merkerhood/paragon/config"
	"github.com/Merkerhood/paragon/core"
	"github.com/Merkerhood/paragon/service"
	"github.com/Merkerhood/paragon/store"
	"github.com/Merkerhood/paragon/wsapi"
)

var version string

type cliArgs struct {
	initConfig bool
	configFile string
}

func parseCliArgs() cliArgs {
	initConfig := flag.Bool("initConfig", false, "Write a default daemon config, a sample stat catalogue and a demo/demo account, then exit.")
	configFile := flag.String("config", "paragonConfig.yaml", "Configuration file for the paragon daemon")

	flag.Parse()

	return cliArgs{
		initConfig: *initConfig,
		configFile: *configFile,
	}
}

func main() {
	if version == "" {
		version = "<no tag>"
	}
	fmt.Printf("paragon-daemon version %s starting\n", version)

	args := parseCliArgs()

	if args.initConfig {
		if err := initDefaults(args.configFile); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg := daemonConfig{}
	if err := (&cfg).DeserializeFromFile(args.configFile); err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatal(err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(level)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("zerolog.ParseLevel(%q): %w", level, err)
		}
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl), nil
}

func run(cfg daemonConfig, logger zerolog.Logger) error {
	cat, err := config.LoadCatalogue(cfg.Storage.CatalogueFile)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.DatabaseFile, logger.With().Str("component", "store").Logger())
	if err != nil {
		return err
	}

	hooks := core.NewHooks()
	hooks.OnExperienceCalculated(core.NewLevelBandMultiplier(cat.Scalars()))
	registerAnnouncers(hooks, logger)

	keys := service.KeyByCharacter
	if cfg.Progression.KeyByAccount {
		keys = service.KeyByAccount
	}

	svc := &service.Service{
		Engine:     core.NewEngine(cat, hooks),
		Catalogue:  cat,
		Storage:    db,
		Applicator: &logApplicator{logger: logger.With().Str("component", "applicator").Logger()},
		Keys:       keys,
		Logger:     logger.With().Str("component", "service").Logger(),
	}
	if err := svc.Start(); err != nil {
		return err
	}

	authServer := &auth.Server{
		AccountDatabaseFile: cfg.Storage.AccountDatabaseFile,
	}
	if err := authServer.Start(); err != nil {
		return err
	}

	apiServer := &wsapi.Server{
		ListenAddrString: cfg.Listen.Addr,
		AuthService:      authServer,
		Progression:      svc,
		Catalogue:        cat,
		Logger:           logger.With().Str("component", "wsapi").Logger(),
	}
	if err := apiServer.Start(); err != nil {
		return err
	}
	logger.Info().Str("addr", cfg.Listen.Addr).Msg("API server listening")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	apiServer.Stop()
	if err := svc.SaveAll(context.Background()); err != nil {
		logger.Error().Err(err).Msg("bulk save on shutdown failed")
	}
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("store close failed")
	}
	return nil
}

// registerAnnouncers wires the observation points the host would normally
// use for chat broadcasts and visual effects onto the daemon's log.
func registerAnnouncers(hooks *core.Hooks, logger zerolog.Logger) {
	hooks.OnAfterExperienceGrant(func(st *core.State) {
		logger.Debug().
			Str("subject", st.SubjectID().String()).
			Int("level", st.Level()).
			Int("experience", st.CurrentExperience()).
			Int("required", st.RequiredExperience()).
			Msg("experience granted")
	})
	hooks.OnLevelChanged(func(st *core.State, oldLevel, newLevel int) {
		logger.Info().
			Str("subject", st.SubjectID().String()).
			Int("from", oldLevel).
			Int("to", newLevel).
			Int("points", st.Points()).
			Msg("level up")
	})
	hooks.OnStatChanged(func(st *core.State, statID uint32, oldValue, newValue int) {
		logger.Debug().
			Str("subject", st.SubjectID().String()).
			Uint32("stat", statID).
			Int("from", oldValue).
			Int("to", newValue).
			Msg("investment changed")
	})
}

func initDefaults(configFile string) error {
	cfg := defaultConfig()
	if err := cfg.SerializeToFile(configFile); err != nil {
		return err
	}
	if err := config.WriteSampleCatalogue(cfg.Storage.CatalogueFile); err != nil {
		return err
	}

	authServer := &auth.Server{
		AccountDatabaseFile: cfg.Storage.AccountDatabaseFile,
	}
	if err := authServer.Start(); err != nil {
		return err
	}
	if err := authServer.CreateAccount("demo", "demo"); err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s, created account demo/demo in %s\n",
		configFile, cfg.Storage.CatalogueFile, cfg.Storage.AccountDatabaseFile)
	return nil
}
