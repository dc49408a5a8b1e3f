package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ig-audit/igaudit/internal/audit"
	"github.com/ig-audit/igaudit/internal/cloudsync"
	"github.com/ig-audit/igaudit/internal/ingest"
	"github.com/ig-audit/igaudit/internal/report"
	"github.com/ig-audit/igaudit/internal/server"
	"github.com/ig-audit/igaudit/internal/storage"
	"github.com/ig-audit/igaudit/internal/verify"
)

const (
	rootCommandUse           = "igaudit"
	rootCommandShort         = "Track Instagram follower and following changes over time"
	envPrefix                = "IGAUDIT"
	flagDatabaseName         = "db"
	flagDatabaseDescription  = "Path to the SQLite database file"
	defaultDatabasePath      = "instagram_audit.db"
	flagInputName            = "input"
	flagInputDescription     = "Path to Instagram export directory or JSON file"
	flagReportName           = "report"
	flagReportDescription    = "Write an HTML report to this path"
	flagOldIDName            = "old-id"
	flagOldIDDescription     = "ID of the old snapshot (defaults to the latest pair)"
	flagNewIDName            = "new-id"
	flagNewIDDescription     = "ID of the new snapshot (defaults to the latest pair)"
	flagSnapshotIDName       = "snapshot-id"
	flagSnapshotIDDesc       = "ID of the snapshot to view (default: latest)"
	flagLimitName            = "limit"
	flagLimitDescription     = "Number of snapshots to show"
	defaultListLimit         = 10
	flagOutName              = "out"
	flagOutDescription       = "Output file path"
	defaultReportFileName    = "instagram_audit_report.html"
	flagViewsPageName        = "views"
	flagViewsPageDescription = "Render the relationship views page instead of the diff"
	flagPassphraseName       = "passphrase"
	flagPassphraseDesc       = "Passphrase for encrypting and locating the sync document"
	flagEndpointName         = "endpoint"
	flagEndpointDescription  = "Sync API endpoint URL"
	flagHostName             = "host"
	flagHostDescription      = "Host interface for the HTTP server"
	flagPortName             = "port"
	flagPortDescription      = "Port for the HTTP server"
	defaultHost              = "127.0.0.1"
	defaultPort              = 8080

	errMessageOpenStore       = "open database"
	errMessageCollectExport   = "collect export"
	errMessageSaveSnapshot    = "save snapshot"
	errMessageLoadSnapshot    = "load snapshot"
	errMessageRenderReport    = "render report"
	errMessageWriteReport     = "write report"
	errMessageLoggerCreate    = "create logger"
	errMessageListenAndServe  = "listen and serve"
	errMessageBuildDocument   = "build sync document"
	errMessageSyncClient      = "sync client"
	errMessagePassphraseEmpty = "passphrase must not be empty"
	errMessageNeedTwo         = "need at least 2 snapshots to compute a diff"
	errMessageBothIDsRequired = "both --old-id and --new-id are required"

	logMessageStartingServer = "starting HTTP server"
	logMessageServerStopped  = "server stopped"
	logMessageListenError    = "server listen failure"
	logFieldAddress          = "address"

	loadingExportFormat     = "Loading Instagram export from: %s\n"
	snapshotSavedFormat     = "Snapshot saved with ID: %d\n"
	snapshotTimestampFormat = "Snapshot timestamp: %s\n"
	followerCountFormat     = "Followers: %d\n"
	followingCountFormat    = "Following: %d\n"
	missingAccountsFormat   = "\n%d accounts are missing (may be blocked, deactivated, or renamed)\n"
	missingAccountsHint     = "Run 'igaudit verify' to classify them."
	htmlReportFormat        = "\nHTML report: %s\n"
	reportWrittenFormat     = "Wrote %s\n"
	noSnapshotsMessage      = "No snapshots found."
	listHeaderFormat        = "\n%-6s %-20s %-12s %-10s %-10s\n"
	listRowFormat           = "%-6d %-20s %-12s %-10d %-10d\n"
	listTimestampLayout     = "2006-01-02 15:04:05"
	listRuleWidth           = 70
	syncPushedMessage       = "Sync document pushed."
	syncNotFoundMessage     = "No sync document found for this passphrase."
	syncSnapshotListLimit   = 50
)

func main() {
	cobra.CheckErr(newRootCommand().Execute())
}

func newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:          rootCommandUse,
		Short:        rootCommandShort,
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().String(flagDatabaseName, defaultDatabasePath, flagDatabaseDescription)
	bindFlagToViper(rootCommand, flagDatabaseName)

	rootCommand.AddCommand(
		newSnapshotCommand(),
		newDiffCommand(),
		newViewsCommand(),
		newListCommand(),
		newVerifyCommand(),
		newReportCommand(),
		newSyncCommand(),
		newServeCommand(),
	)

	cobra.OnInitialize(configureEnvironment)

	return rootCommand
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	flag := command.Flags().Lookup(flagName)
	if flag == nil {
		flag = command.PersistentFlags().Lookup(flagName)
	}
	cobra.CheckErr(viper.BindPFlag(flagName, flag))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func openStore() (*storage.Store, error) {
	store, err := storage.Open(viper.GetString(flagDatabaseName))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageOpenStore, err)
	}
	return store, nil
}

func newSnapshotCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "snapshot",
		Short: "Create a new snapshot from Instagram export data",
		RunE:  runSnapshotCommand,
	}
	command.Flags().String(flagInputName, "", flagInputDescription)
	command.Flags().String(flagReportName, "", flagReportDescription)
	cobra.CheckErr(command.MarkFlagRequired(flagInputName))
	return command
}

func runSnapshotCommand(command *cobra.Command, _ []string) error {
	inputPath, _ := command.Flags().GetString(flagInputName)
	reportPath, _ := command.Flags().GetString(flagReportName)

	fmt.Printf(loadingExportFormat, inputPath)
	snapshot, collectErr := ingest.CollectExport(inputPath)
	if collectErr != nil {
		return fmt.Errorf("%s: %w", errMessageCollectExport, collectErr)
	}

	fmt.Printf(snapshotTimestampFormat, snapshot.CapturedAt.Format(listTimestampLayout))
	fmt.Printf(followerCountFormat, snapshot.FollowerCount())
	fmt.Printf(followingCountFormat, snapshot.FollowingCount())

	store, storeErr := openStore()
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	commandContext := command.Context()
	previousSnapshot, previousErr := store.LatestSnapshot(commandContext)
	havePrevious := previousErr == nil
	if previousErr != nil && !errors.Is(previousErr, storage.ErrSnapshotNotFound) {
		return fmt.Errorf("%s: %w", errMessageLoadSnapshot, previousErr)
	}

	snapshotID, saveErr := store.SaveSnapshot(commandContext, snapshot)
	if saveErr != nil {
		return fmt.Errorf("%s: %w", errMessageSaveSnapshot, saveErr)
	}
	fmt.Printf(snapshotSavedFormat, snapshotID)

	if havePrevious {
		diffResult := audit.ComputeDiff(previousSnapshot, snapshot)
		fmt.Println(report.FormatDiffSummary(diffResult))

		missing := audit.FindMissingAccounts(previousSnapshot, snapshot)
		if len(missing) > 0 {
			fmt.Printf(missingAccountsFormat, len(missing))
			fmt.Println(missingAccountsHint)

			queue := verify.NewQueue(store)
			for _, account := range audit.SortedAccounts(missing) {
				if _, enqueueErr := queue.AddMissing(commandContext, account, previousSnapshot.CapturedAt, snapshot.CapturedAt); enqueueErr != nil {
					return enqueueErr
				}
			}
		}

		if reportPath != "" {
			if writeErr := writeDiffReport(diffResult, reportPath); writeErr != nil {
				return writeErr
			}
			fmt.Printf(htmlReportFormat, reportPath)
		}
	}

	return nil
}

func newDiffCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "diff",
		Short: "Show differences between two snapshots",
		RunE:  runDiffCommand,
	}
	command.Flags().Int64(flagOldIDName, 0, flagOldIDDescription)
	command.Flags().Int64(flagNewIDName, 0, flagNewIDDescription)
	command.Flags().String(flagReportName, "", flagReportDescription)
	return command
}

func runDiffCommand(command *cobra.Command, _ []string) error {
	oldID, _ := command.Flags().GetInt64(flagOldIDName)
	newID, _ := command.Flags().GetInt64(flagNewIDName)
	reportPath, _ := command.Flags().GetString(flagReportName)

	store, storeErr := openStore()
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	oldSnapshot, newSnapshot, loadErr := loadSnapshotPair(command.Context(), store, oldID, newID)
	if loadErr != nil {
		return loadErr
	}

	diffResult := audit.ComputeDiff(oldSnapshot, newSnapshot)
	fmt.Println(report.FormatDiffDetailed(diffResult))

	if reportPath != "" {
		if writeErr := writeDiffReport(diffResult, reportPath); writeErr != nil {
			return writeErr
		}
		fmt.Printf(htmlReportFormat, reportPath)
	}
	return nil
}

// loadSnapshotPair resolves either the explicitly requested snapshot IDs or
// the two most recent snapshots.
func loadSnapshotPair(ctx context.Context, store *storage.Store, oldID int64, newID int64) (audit.Snapshot, audit.Snapshot, error) {
	if oldID != 0 || newID != 0 {
		if oldID == 0 || newID == 0 {
			return audit.Snapshot{}, audit.Snapshot{}, errors.New(errMessageBothIDsRequired)
		}
		oldSnapshot, oldErr := store.SnapshotByID(ctx, oldID)
		if oldErr != nil {
			return audit.Snapshot{}, audit.Snapshot{}, fmt.Errorf("%s: %w", errMessageLoadSnapshot, oldErr)
		}
		newSnapshot, newErr := store.SnapshotByID(ctx, newID)
		if newErr != nil {
			return audit.Snapshot{}, audit.Snapshot{}, fmt.Errorf("%s: %w", errMessageLoadSnapshot, newErr)
		}
		return oldSnapshot, newSnapshot, nil
	}

	newSnapshot, latestErr := store.LatestSnapshot(ctx)
	if latestErr != nil {
		if errors.Is(latestErr, storage.ErrSnapshotNotFound) {
			return audit.Snapshot{}, audit.Snapshot{}, errors.New(errMessageNeedTwo)
		}
		return audit.Snapshot{}, audit.Snapshot{}, fmt.Errorf("%s: %w", errMessageLoadSnapshot, latestErr)
	}
	oldSnapshot, previousErr := store.PreviousSnapshot(ctx, newSnapshot)
	if previousErr != nil {
		if errors.Is(previousErr, storage.ErrSnapshotNotFound) {
			return audit.Snapshot{}, audit.Snapshot{}, errors.New(errMessageNeedTwo)
		}
		return audit.Snapshot{}, audit.Snapshot{}, fmt.Errorf("%s: %w", errMessageLoadSnapshot, previousErr)
	}
	return oldSnapshot, newSnapshot, nil
}

func newViewsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "views",
		Short: "Show relationship views for a snapshot",
		RunE:  runViewsCommand,
	}
	command.Flags().Int64(flagSnapshotIDName, 0, flagSnapshotIDDesc)
	command.Flags().String(flagReportName, "", flagReportDescription)
	return command
}

func runViewsCommand(command *cobra.Command, _ []string) error {
	snapshotID, _ := command.Flags().GetInt64(flagSnapshotIDName)
	reportPath, _ := command.Flags().GetString(flagReportName)

	store, storeErr := openStore()
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	snapshot, loadErr := loadSnapshotOrLatest(command.Context(), store, snapshotID)
	if loadErr != nil {
		return loadErr
	}

	relationshipViews := audit.ComputeViews(snapshot)
	fmt.Println(report.FormatViewsDetailed(relationshipViews))

	if reportPath != "" {
		pageHTML, renderErr := report.RenderViewsPage(relationshipViews)
		if renderErr != nil {
			return fmt.Errorf("%s: %w", errMessageRenderReport, renderErr)
		}
		if writeErr := os.WriteFile(reportPath, []byte(pageHTML), 0o644); writeErr != nil {
			return fmt.Errorf("%s: %w", errMessageWriteReport, writeErr)
		}
		fmt.Printf(htmlReportFormat, reportPath)
	}
	return nil
}

func loadSnapshotOrLatest(ctx context.Context, store *storage.Store, snapshotID int64) (audit.Snapshot, error) {
	var snapshot audit.Snapshot
	var loadErr error
	if snapshotID != 0 {
		snapshot, loadErr = store.SnapshotByID(ctx, snapshotID)
	} else {
		snapshot, loadErr = store.LatestSnapshot(ctx)
	}
	if loadErr != nil {
		return audit.Snapshot{}, fmt.Errorf("%s: %w", errMessageLoadSnapshot, loadErr)
	}
	return snapshot, nil
}

func newListCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE:  runListCommand,
	}
	command.Flags().Int(flagLimitName, defaultListLimit, flagLimitDescription)
	return command
}

func runListCommand(command *cobra.Command, _ []string) error {
	limit, _ := command.Flags().GetInt(flagLimitName)

	store, storeErr := openStore()
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	summaries, listErr := store.ListSnapshots(command.Context(), limit)
	if listErr != nil {
		return listErr
	}
	if len(summaries) == 0 {
		fmt.Println(noSnapshotsMessage)
		return nil
	}

	fmt.Printf(listHeaderFormat, "ID", "Timestamp", "Source", "Followers", "Following")
	fmt.Println(strings.Repeat("-", listRuleWidth))
	for _, summary := range summaries {
		fmt.Printf(
			listRowFormat,
			summary.ID,
			summary.CapturedAt.Format(listTimestampLayout),
			string(summary.Source),
			summary.FollowerCount,
			summary.FollowingCount,
		)
	}
	return nil
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Interactively classify missing accounts",
		RunE:  runVerifyCommand,
	}
}

func runVerifyCommand(command *cobra.Command, _ []string) error {
	store, storeErr := openStore()
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	queue := verify.NewQueue(store)
	return queue.ProcessInteractively(command.Context(), os.Stdin, os.Stdout)
}

func newReportCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "report",
		Short: "Write an HTML report for the stored snapshots",
		RunE:  runReportCommand,
	}
	command.Flags().String(flagOutName, defaultReportFileName, flagOutDescription)
	command.Flags().Bool(flagViewsPageName, false, flagViewsPageDescription)
	return command
}

func runReportCommand(command *cobra.Command, _ []string) error {
	outputPath, _ := command.Flags().GetString(flagOutName)
	viewsPage, _ := command.Flags().GetBool(flagViewsPageName)

	store, storeErr := openStore()
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	commandContext := command.Context()
	if viewsPage {
		snapshot, loadErr := loadSnapshotOrLatest(commandContext, store, 0)
		if loadErr != nil {
			return loadErr
		}
		pageHTML, renderErr := report.RenderViewsPage(audit.ComputeViews(snapshot))
		if renderErr != nil {
			return fmt.Errorf("%s: %w", errMessageRenderReport, renderErr)
		}
		if writeErr := os.WriteFile(outputPath, []byte(pageHTML), 0o644); writeErr != nil {
			return fmt.Errorf("%s: %w", errMessageWriteReport, writeErr)
		}
		fmt.Printf(reportWrittenFormat, outputPath)
		return nil
	}

	oldSnapshot, newSnapshot, loadErr := loadSnapshotPair(commandContext, store, 0, 0)
	if loadErr != nil {
		return loadErr
	}
	if writeErr := writeDiffReport(audit.ComputeDiff(oldSnapshot, newSnapshot), outputPath); writeErr != nil {
		return writeErr
	}
	fmt.Printf(reportWrittenFormat, outputPath)
	return nil
}

func writeDiffReport(diffResult audit.DiffResult, outputPath string) error {
	pageHTML, renderErr := report.RenderDiffPage(diffResult)
	if renderErr != nil {
		return fmt.Errorf("%s: %w", errMessageRenderReport, renderErr)
	}
	if writeErr := os.WriteFile(outputPath, []byte(pageHTML), 0o644); writeErr != nil {
		return fmt.Errorf("%s: %w", errMessageWriteReport, writeErr)
	}
	return nil
}

// syncDocument is the plaintext structure encrypted and stored at the sync
// endpoint.
type syncDocument struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Snapshots   []storage.SnapshotSummary `json:"snapshots"`
	Views       *audit.RelationshipViews  `json:"views,omitempty"`
	Pending     []audit.MissingAccount    `json:"pending,omitempty"`
}

func newSyncCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "sync",
		Short: "Push or pull the encrypted audit summary",
	}
	command.PersistentFlags().String(flagPassphraseName, "", flagPassphraseDesc)
	command.PersistentFlags().String(flagEndpointName, "", flagEndpointDescription)
	bindFlagToViper(command, flagPassphraseName)
	bindFlagToViper(command, flagEndpointName)
	command.AddCommand(newSyncPushCommand(), newSyncPullCommand())
	return command
}

func newSyncPushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Encrypt the audit summary and upload it",
		RunE:  runSyncPushCommand,
	}
}

func runSyncPushCommand(command *cobra.Command, _ []string) error {
	passphrase := viper.GetString(flagPassphraseName)
	if passphrase == "" {
		return errors.New(errMessagePassphraseEmpty)
	}

	store, storeErr := openStore()
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	document, documentErr := buildSyncDocument(command.Context(), store)
	if documentErr != nil {
		return fmt.Errorf("%s: %w", errMessageBuildDocument, documentErr)
	}

	client, clientErr := cloudsync.NewClient(cloudsync.Config{EndpointURL: viper.GetString(flagEndpointName)})
	if clientErr != nil {
		return fmt.Errorf("%s: %w", errMessageSyncClient, clientErr)
	}
	if pushErr := client.Push(command.Context(), document, passphrase); pushErr != nil {
		return pushErr
	}
	fmt.Println(syncPushedMessage)
	return nil
}

func buildSyncDocument(ctx context.Context, store *storage.Store) (syncDocument, error) {
	summaries, listErr := store.ListSnapshots(ctx, syncSnapshotListLimit)
	if listErr != nil {
		return syncDocument{}, listErr
	}

	document := syncDocument{
		GeneratedAt: time.Now().UTC(),
		Snapshots:   summaries,
	}

	latestSnapshot, latestErr := store.LatestSnapshot(ctx)
	switch {
	case latestErr == nil:
		relationshipViews := audit.ComputeViews(latestSnapshot)
		document.Views = &relationshipViews
	case !errors.Is(latestErr, storage.ErrSnapshotNotFound):
		return syncDocument{}, latestErr
	}

	pending, pendingErr := store.PendingVerifications(ctx)
	if pendingErr != nil {
		return syncDocument{}, pendingErr
	}
	for _, pendingVerification := range pending {
		document.Pending = append(document.Pending, pendingVerification.Missing)
	}

	return document, nil
}

func newSyncPullCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "pull",
		Short: "Download and decrypt the audit summary",
		RunE:  runSyncPullCommand,
	}
	command.Flags().String(flagOutName, "", flagOutDescription)
	return command
}

func runSyncPullCommand(command *cobra.Command, _ []string) error {
	passphrase := viper.GetString(flagPassphraseName)
	if passphrase == "" {
		return errors.New(errMessagePassphraseEmpty)
	}

	client, clientErr := cloudsync.NewClient(cloudsync.Config{EndpointURL: viper.GetString(flagEndpointName)})
	if clientErr != nil {
		return fmt.Errorf("%s: %w", errMessageSyncClient, clientErr)
	}

	var document syncDocument
	found, pullErr := client.Pull(command.Context(), passphrase, &document)
	if pullErr != nil {
		return pullErr
	}
	if !found {
		fmt.Println(syncNotFoundMessage)
		return nil
	}

	encoded, encodeErr := json.MarshalIndent(document, "", "  ")
	if encodeErr != nil {
		return encodeErr
	}

	outputPath, _ := command.Flags().GetString(flagOutName)
	if outputPath == "" {
		fmt.Println(string(encoded))
		return nil
	}
	if writeErr := os.WriteFile(outputPath, encoded, 0o644); writeErr != nil {
		return fmt.Errorf("%s: %w", errMessageWriteReport, writeErr)
	}
	fmt.Printf(reportWrittenFormat, outputPath)
	return nil
}

func newServeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve the audit report over HTTP",
		RunE:  runServeCommand,
	}
	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)
	bindFlagToViper(command, flagHostName)
	bindFlagToViper(command, flagPortName)
	return command
}

func runServeCommand(*cobra.Command, []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, storeErr := openStore()
	if storeErr != nil {
		return storeErr
	}
	defer store.Close()

	router, routerErr := server.NewRouter(server.RouterConfig{
		Store:  store,
		Logger: logger,
	})
	if routerErr != nil {
		return routerErr
	}

	address := fmt.Sprintf("%s:%d", viper.GetString(flagHostName), viper.GetInt(flagPortName))
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	httpServer := &http.Server{Addr: address, Handler: router}
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Error(logMessageListenError, zap.Error(serveErr))
		return fmt.Errorf("%s: %w", errMessageListenAndServe, serveErr)
	}

	logger.Info(logMessageServerStopped)
	return nil
}
