package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/andreyvit/ndb"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to wrap the help text at
	Wrap int = 50
)

var RootCmd = &cobra.Command{
	Use:   "ndb",
	Short: "normalized object store",
	Long: `ndb stores nested object graphs as flat records that reference each
other by key, and reads them back as graphs.

Every flag can also be set through an NDB_ environment variable (NDB_DB,
NDB_SCHEMA, ...), including from .env and .env.local.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig()
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		setupLogger()
		return nil
	},
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.String("db", "ndb.db", wrapString("path of the database file"))
	flags.String("backend", "bolt", wrapString("storage backend (bolt, sqlite)"))
	flags.String("schema", "schema.yaml", wrapString("path of the YAML schema file"))
	flags.Bool("no-refs", false, wrapString("do not maintain reverse references"))
	flags.Bool("history", false, wrapString("record every change in the audit history"))
	flags.BoolP("verbose", "v", false, wrapString("log every storage operation"))

	RootCmd.AddCommand(importCmd, getCmd, listCmd, countCmd, removeCmd, clearCmd, dumpCmd, statsCmd, historyCmd, schemaCmd)
}

// initConfig loads .env files and makes NDB_* variables override flag
// defaults.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("ndb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogger() {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)
}

func openDB() (*ndb.DB, error) {
	scm, err := ndb.LoadSchemaFile(viper.GetString("schema"))
	if err != nil {
		return nil, err
	}
	opt := ndb.DefaultOptions()
	opt.Logger = slog.Default()
	opt.Verbose = viper.GetBool("verbose")
	opt.ReverseRefs = !viper.GetBool("no-refs")
	opt.KeyGenerator = ndb.UUIDKeys()
	if viper.GetBool("history") {
		opt.History = &ndb.Match{}
	}

	path := viper.GetString("db")
	switch backend := viper.GetString("backend"); backend {
	case "bolt":
		return ndb.Open(path, scm, opt)
	case "sqlite":
		return ndb.OpenSQLite(path, scm, opt)
	default:
		return nil, fmt.Errorf("invalid backend %s", backend)
	}
}

// withDB opens the database for the duration of f.
func withDB(f func(db *ndb.DB) error) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	return f(db)
}

// wrapString wraps a string at Wrap characters
func wrapString(text string) string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
