package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/propview/viewings/backend/internal/auth"
	"github.com/propview/viewings/backend/internal/config"
	"github.com/propview/viewings/backend/internal/database"
	"github.com/propview/viewings/backend/internal/directory"
	"github.com/propview/viewings/backend/internal/invites"
	"github.com/propview/viewings/backend/internal/logging"
	"github.com/propview/viewings/backend/internal/mailer"
	"github.com/propview/viewings/backend/internal/records"
	"github.com/propview/viewings/backend/internal/server"
	"github.com/propview/viewings/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "viewings-api",
		Short: "Property viewings backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("links.public_base_url"), "Base URL used in confirmation links")
	cmd.PersistentFlags().Bool("email-enabled", defaults.GetBool("email.enabled"), "Enable outbound email delivery")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "links.public_base_url", "public-base-url")
	bindFlag(cmd, "email.enabled", "email-enabled")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := records.NewStore(records.StoreConfig{
		Database:   db,
		IDProvider: records.NewBase36Provider(0),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	inviteService, err := invites.NewService(invites.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var transport mailer.Transport
	if appConfig.Email.Enabled {
		transport = mailer.NewSMTPTransport(
			appConfig.Email.Host,
			appConfig.Email.Port,
			appConfig.Email.Username,
			appConfig.Email.Password,
			appConfig.Email.Sender,
		)
	}
	dispatcher, err := mailer.NewDispatcher(mailer.DispatcherConfig{
		Transport:     transport,
		Details:       inviteService,
		Enabled:       appConfig.Email.Enabled,
		PublicBaseURL: appConfig.PublicBaseURL,
		MaxInFlight:   appConfig.Email.MaxInFlight,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	accountService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
	})

	var explorer *directory.Explorer
	if len(appConfig.Directory) > 0 {
		explorer, err = directory.NewExplorer(directory.ExplorerConfig{
			Connections: directoryConnections(appConfig.Directory),
			Logger:      logger,
		})
		if err != nil {
			return err
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:      store,
		Invites:    inviteService,
		Dispatcher: dispatcher,
		Accounts:   accountService,
		Tokens:     tokenIssuer,
		Explorer:   explorer,
		Events:     server.NewEventStream(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func directoryConnections(configured []config.DirectoryConnection) []directory.ConnectionConfig {
	connections := make([]directory.ConnectionConfig, 0, len(configured))
	for _, connection := range configured {
		connections = append(connections, directory.ConnectionConfig{
			Name:      connection.Name,
			Kind:      directory.Kind(connection.Kind),
			Host:      connection.Host,
			Port:      connection.Port,
			User:      connection.User,
			Password:  connection.Password,
			Database:  connection.Database,
			SSLMode:   connection.SSLMode,
			Account:   connection.Account,
			Warehouse: connection.Warehouse,
		})
	}
	return connections
}
