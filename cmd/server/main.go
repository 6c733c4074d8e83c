package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/temirov/GAuss/pkg/session"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/publish"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/storage"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/task"
)

const (
	commandUseName              = "server"
	commandShortDescription     = "Run the mini-site builder server"
	commandLongDescription      = "Launch the hosted mini-site builder HTTP server"
	missingConfigurationMessage = "missing required configuration"
	loggerCreationErrorMessage  = "logger"
	logEventListening           = "listening"
	logEventShuttingDown        = "shutting_down"
	logFieldAddress             = "addr"

	environmentKeyApplicationAddress = "APP_ADDR"
	environmentKeyDatabaseDriver     = "DB_DRIVER"
	environmentKeyDatabaseDataSource = "DB_DSN"
	environmentKeyGitHubOwner        = "GITHUB_OWNER"
	environmentKeyGitHubRepository   = "GITHUB_REPO"
	environmentKeyGitHubBranch       = "GITHUB_BRANCH"
	environmentKeyGitHubToken        = "GITHUB_TOKEN"
	environmentKeyPagesBaseURL       = "PAGES_BASE_URL"
	environmentKeyPublicBaseURL      = "PUBLIC_BASE_URL"
	environmentKeyGoogleClientID     = "GOOGLE_CLIENT_ID"
	environmentKeyGoogleClientSecret = "GOOGLE_CLIENT_SECRET"
	environmentKeySessionSecret      = "SESSION_SECRET"

	defaultApplicationAddress = ":8080"
	defaultDatabaseDriver     = storage.DriverNameSQLite
	defaultDatabaseDataSource = "minisite.db"
	defaultPublicBaseURL      = "http://localhost:8080"

	loggerContextOpenDatabase = "open_db"
	loggerContextAutoMigrate  = "migrate"
	loggerContextAuth         = "auth"
	loggerContextServer       = "server"
	loggerContextShutdown     = "shutdown"

	readHeaderTimeoutSeconds      = 5
	shutdownGraceSeconds          = 10
	unexpectedArgumentsMessage    = "unexpected command arguments"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
)

// configurationParameter describes one environment-backed command flag.
type configurationParameter struct {
	environmentKey string
	flagName       string
	defaultValue   string
	usage          string
	required       bool
}

var configurationParameters = []configurationParameter{
	{environmentKeyApplicationAddress, "app-addr", defaultApplicationAddress, "address for the HTTP server to listen on", false},
	{environmentKeyDatabaseDriver, "db-driver", defaultDatabaseDriver, "database driver (sqlite or postgres)", false},
	{environmentKeyDatabaseDataSource, "db-dsn", defaultDatabaseDataSource, "database connection string", false},
	{environmentKeyGitHubOwner, "github-owner", "", "owner of the content repository", true},
	{environmentKeyGitHubRepository, "github-repo", "", "content repository name", true},
	{environmentKeyGitHubBranch, "github-branch", "", "content repository branch (defaults to main)", false},
	{environmentKeyGitHubToken, "github-token", "", "token used to write published sites", true},
	{environmentKeyPagesBaseURL, "pages-base-url", "", "public base URL for published sites", false},
	{environmentKeyPublicBaseURL, "public-base-url", defaultPublicBaseURL, "public base URL of this server", false},
	{environmentKeyGoogleClientID, "google-client-id", "", "Google OAuth client identifier", true},
	{environmentKeyGoogleClientSecret, "google-client-secret", "", "Google OAuth client secret", true},
	{environmentKeySessionSecret, "session-secret", "", "secret for the session cookie store", true},
}

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress string
	DatabaseDriver     string
	DatabaseDataSource string
	GitHub             publish.GitHubConfig
	PublicBaseURL      string
	GoogleClientID     string
	GoogleClientSecret string
	SessionSecret      string
}

// DatabaseOpener opens a database connection for the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	for _, parameter := range configurationParameters {
		application.configurationLoader.SetDefault(parameter.environmentKey, parameter.defaultValue)
		commandFlags.String(parameter.flagName, parameter.defaultValue, parameter.usage)

		if bindErr := application.bindFlag(commandFlags, parameter.environmentKey, parameter.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, parameter.environmentKey, parameter.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	return application.configurationLoader.BindPFlag(environmentKey, flag)
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadConfiguration() ServerConfig {
	stringValue := func(environmentKey string) string {
		return strings.TrimSpace(application.configurationLoader.GetString(environmentKey))
	}

	return ServerConfig{
		ApplicationAddress: stringValue(environmentKeyApplicationAddress),
		DatabaseDriver:     stringValue(environmentKeyDatabaseDriver),
		DatabaseDataSource: stringValue(environmentKeyDatabaseDataSource),
		GitHub: publish.GitHubConfig{
			Owner:        stringValue(environmentKeyGitHubOwner),
			Repository:   stringValue(environmentKeyGitHubRepository),
			Branch:       stringValue(environmentKeyGitHubBranch),
			Token:        stringValue(environmentKeyGitHubToken),
			PagesBaseURL: stringValue(environmentKeyPagesBaseURL),
		},
		PublicBaseURL:      stringValue(environmentKeyPublicBaseURL),
		GoogleClientID:     stringValue(environmentKeyGoogleClientID),
		GoogleClientSecret: stringValue(environmentKeyGoogleClientSecret),
		SessionSecret:      stringValue(environmentKeySessionSecret),
	}
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	values := map[string]string{
		environmentKeyGitHubOwner:        configuration.GitHub.Owner,
		environmentKeyGitHubRepository:   configuration.GitHub.Repository,
		environmentKeyGitHubToken:        configuration.GitHub.Token,
		environmentKeyGoogleClientID:     configuration.GoogleClientID,
		environmentKeyGoogleClientSecret: configuration.GoogleClientSecret,
		environmentKeySessionSecret:      configuration.SessionSecret,
	}

	var missingParameters []string
	for _, parameter := range configurationParameters {
		if !parameter.required {
			continue
		}
		if values[parameter.environmentKey] == "" {
			missingParameters = append(missingParameters, parameter.flagName)
		}
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig := application.loadConfiguration()
	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}
	if githubErr := serverConfig.GitHub.Validate(); githubErr != nil {
		return githubErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriver,
		DataSourceName: serverConfig.DatabaseDataSource,
	})
	if databaseErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.Error(databaseErr))
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Fatal(loggerContextAutoMigrate, zap.Error(migrateErr))
	}

	session.NewSession([]byte(serverConfig.SessionSecret))

	githubClient, githubClientErr := publish.NewGitHubClient(nil, logger, serverConfig.GitHub)
	if githubClientErr != nil {
		logger.Fatal(loggerContextServer, zap.Error(githubClientErr))
	}
	publisher := publish.NewPublisher(database, logger, githubClient, githubClient.PagesBaseURL())

	router, routerErr := buildRouter(database, logger, publisher, serverConfig)
	if routerErr != nil {
		logger.Fatal(loggerContextAuth, zap.Error(routerErr))
	}

	trialSweep := task.NewTrialSweepJob(database, logger)
	sweepScheduler := task.NewScheduler(task.DefaultTrialSweepInterval, task.DefaultTrialSweepRetryBackoff, trialSweep.Run)
	sweepScheduler.Start(context.Background())
	defer sweepScheduler.Stop()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	shutdownContext, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.ListenAndServe()
	}()

	logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))

	select {
	case serveErr := <-serveErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Fatal(loggerContextServer, zap.Error(serveErr))
		}
	case <-shutdownContext.Done():
		logger.Info(logEventShuttingDown)
		graceContext, cancelGrace := context.WithTimeout(context.Background(), shutdownGraceSeconds*time.Second)
		defer cancelGrace()
		if shutdownErr := httpServer.Shutdown(graceContext); shutdownErr != nil {
			logger.Error(loggerContextShutdown, zap.Error(shutdownErr))
		}
	}

	return nil
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
