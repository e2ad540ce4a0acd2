package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pindash/internal/app"
	"pindash/internal/config"
	"pindash/internal/server"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// command identifies the CLI command being run (e.g. "sync").
func newApp(cmd *cobra.Command, command string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var console io.Writer
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		console = os.Stderr
	}

	a, err := app.NewApp(cfg, command, app.Options{Console: console})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// finish closes a and marks the session failed when err is set.
func finish(a *app.App, err error) error {
	if err != nil {
		a.Fail()
	}
	if cerr := a.Close(); cerr != nil && err == nil {
		return cerr
	}
	return err
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return id, nil
}

func formatTime(unix int64) string {
	if unix == 0 {
		return "never"
	}
	return time.Unix(unix, 0).Local().Format("2006-01-02 15:04")
}

var rootCmd = &cobra.Command{
	Use:          "pindash",
	Short:        "Feed reader with a local database",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.LogDir = defaults.LogDir
		cfg.Database.DataDir = defaults.DataDir

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// folder command
var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders",
}

var folderAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "folder add")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		id, err := a.CreateFolder(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("creating folder: %w", err)
		}
		fmt.Printf("Created folder %d\n", id)
		return nil
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		id, err := parseID(args[0], "folder")
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "folder rename")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		return a.RenameFolder(cmd.Context(), id, args[1])
	},
}

var folderRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a folder, moving its feeds to the default folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		id, err := parseID(args[0], "folder")
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "folder rm")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		return a.DeleteFolder(cmd.Context(), id)
	},
}

// feed command
var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Manage subscriptions",
}

var feedAddCmd = &cobra.Command{
	Use:   "add URL",
	Short: "Subscribe to a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		name, _ := cmd.Flags().GetString("name")
		folderID, _ := cmd.Flags().GetInt64("folder")
		fetchNow, _ := cmd.Flags().GetBool("fetch")

		a, err := newApp(cmd, "feed add")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		id, err := a.AddFeed(cmd.Context(), args[0], name, folderID)
		if err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
		fmt.Printf("Added feed %d\n", id)

		if fetchNow {
			if _, err := a.FetchFeed(cmd.Context(), id, true); err != nil {
				return fmt.Errorf("fetching: %w", err)
			}
			feed, _ := a.Feed(id)
			fmt.Printf("Fetched %s (last seen %s)\n", feed.URL, formatTime(feed.LastSeen))
		}
		return nil
	},
}

var feedEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change a feed's url, name or folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		id, err := parseID(args[0], "feed")
		if err != nil {
			return err
		}
		var edit app.FeedEdit
		edit.URL, _ = cmd.Flags().GetString("url")
		edit.Name, _ = cmd.Flags().GetString("name")
		edit.FolderID, _ = cmd.Flags().GetInt64("folder")

		a, err := newApp(cmd, "feed edit")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		return a.EditFeed(cmd.Context(), id, edit)
	},
}

var feedRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Unsubscribe from a feed and drop its articles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		id, err := parseID(args[0], "feed")
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "feed rm")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		return a.RemoveFeed(cmd.Context(), id)
	},
}

var feedFetchCmd = &cobra.Command{
	Use:   "fetch ID",
	Short: "Fetch one feed now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		id, err := parseID(args[0], "feed")
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "feed fetch")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		before, err := a.Feed(id)
		if err != nil {
			return err
		}
		if _, err := a.FetchFeed(cmd.Context(), id, true); err != nil {
			return err
		}
		after, _ := a.Feed(id)
		if after.LastSeen > before.LastSeen {
			fmt.Printf("Updated, last seen %s\n", formatTime(after.LastSeen))
		} else {
			fmt.Println("Nothing new.")
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch every feed",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "sync")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		results, err := a.Sync(cmd.Context())
		if err != nil {
			return err
		}

		updated := 0
		for _, r := range results {
			mark := " "
			if r.Updated() {
				mark = "*"
				updated++
			}
			fmt.Printf("%s %4d  %-40s  %s\n", mark, r.Feed.ID, r.Feed.URL, formatTime(r.Feed.LastSeen))
		}
		fmt.Printf("Synced %d feed(s), %d updated\n", len(results), updated)
		return nil
	},
}

// tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "List folders and feeds",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "tree")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		for _, f := range a.Tree() {
			marker := ""
			if f.IsDefault {
				marker = "  [default]"
			}
			fmt.Printf("%d  %s%s\n", f.ID, f.Name, marker)
			for _, fe := range f.Feeds {
				name := fe.Name
				if name == "" {
					name = fe.Title
				}
				fmt.Printf("    %4d  %-30s  %s  %s\n", fe.ID, name, fe.URL, formatTime(fe.LastSeen))
			}
		}
		return nil
	},
}

// articles command
var articlesCmd = &cobra.Command{
	Use:   "articles FEED_ID",
	Short: "List a feed's articles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		id, err := parseID(args[0], "feed")
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "articles")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		articles, err := a.Articles(cmd.Context(), id)
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			fmt.Println("No articles.")
			return nil
		}

		// Newest ingested last; show the tail.
		if limit > 0 && len(articles) > limit {
			articles = articles[len(articles)-limit:]
		}
		for _, ar := range articles {
			fmt.Printf("%s  %s\n    %s\n", formatTime(ar.Updated), ar.Title, ar.URL)
		}
		return nil
	},
}

// opml command
var opmlCmd = &cobra.Command{
	Use:   "opml",
	Short: "Import or export subscriptions",
}

var opmlImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Subscribe to every feed in an OPML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		a, err := newApp(cmd, "opml import")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		res, err := a.ImportOPML(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("importing: %w", err)
		}
		fmt.Printf("Imported %d feed(s) into %d new folder(s), skipped %d\n", res.Feeds, res.Folders, res.Skipped)
		return nil
	},
}

var opmlExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write subscriptions as OPML to stdout",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "opml export")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		return a.ExportOPML(os.Stdout)
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON API",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		addr, _ := cmd.Flags().GetString("addr")

		a, err := newApp(cmd, "serve")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		if addr == "" {
			addr = a.Config().Server.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Listening on http://%s\n", addr)
		return server.New(a, a.Logger()).ListenAndServe(ctx, addr)
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the database schema",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "db schema")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		schema, err := a.DumpSchema(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a consistent copy of the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "db backup")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		if err := a.BackupDatabase(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Database copied to %s\n", args[0])
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, "db status")
		if err != nil {
			return err
		}
		defer func() { err = finish(a, err) }()

		status, err := a.MigrationStatus()
		if err != nil {
			return err
		}
		state := "current"
		if !status.Current() {
			state = "behind"
		}
		fmt.Printf("Schema version %d of %d (%s)\n", status.Version, status.Latest, state)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Also write log lines to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// folder subcommands
	folderCmd.AddCommand(folderAddCmd)
	folderCmd.AddCommand(folderRenameCmd)
	folderCmd.AddCommand(folderRmCmd)

	// feed subcommands
	feedCmd.AddCommand(feedAddCmd)
	feedAddCmd.Flags().StringP("name", "n", "", "Display name")
	feedAddCmd.Flags().Int64P("folder", "f", 0, "Folder id (default folder when omitted)")
	feedAddCmd.Flags().Bool("fetch", false, "Fetch the feed right away")
	feedCmd.AddCommand(feedEditCmd)
	feedEditCmd.Flags().String("url", "", "New subscription url")
	feedEditCmd.Flags().StringP("name", "n", "", "New display name")
	feedEditCmd.Flags().Int64P("folder", "f", 0, "Move to folder id")
	feedCmd.AddCommand(feedRmCmd)
	feedCmd.AddCommand(feedFetchCmd)

	// opml subcommands
	opmlCmd.AddCommand(opmlImportCmd)
	opmlCmd.AddCommand(opmlExportCmd)

	// db subcommands
	dbCmd.AddCommand(dbSchemaCmd)
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(articlesCmd)
	articlesCmd.Flags().IntP("limit", "n", 20, "Show at most this many of the newest articles")
	rootCmd.AddCommand(opmlCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	rootCmd.AddCommand(dbCmd)
}
