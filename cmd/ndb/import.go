package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/andreyvit/ndb"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var importCmd = &cobra.Command{
	Use:   "import <type> <file>",
	Short: "Write the objects of a JSON or YAML file",
	Long: `Write the objects of a JSON or YAML file. The file holds one object or a
list of objects of the given type; nested objects under relation fields are
stored as records of their own.

With --watch, the file is imported again every time it changes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		watch, _ := cmd.Flags().GetBool("watch")
		parent, _ := cmd.Flags().GetString("parent")

		var opts []ndb.WriteOption
		if parent != "" {
			p, err := parseParent(parent)
			if err != nil {
				return err
			}
			opts = append(opts, ndb.WithParent(*p))
		}

		return withDB(func(db *ndb.DB) error {
			run := func(ctx context.Context) error {
				return importFile(ctx, db, mode, args[0], args[1], opts)
			}
			if err := run(cmd.Context()); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchFile(cmd.Context(), args[1], run)
		})
	},
}

func init() {
	importCmd.Flags().String("mode", "put", wrapString("write mode (create, update, put, set)"))
	importCmd.Flags().String("parent", "", wrapString("attach the imported records to a relation field, as type/key.field"))
	importCmd.Flags().Bool("watch", false, wrapString("import again whenever the file changes"))
}

func importFile(ctx context.Context, db *ndb.DB, mode, typ, path string, opts []ndb.WriteOption) error {
	input, err := readInput(path)
	if err != nil {
		return err
	}
	var write func(ctx context.Context, typ string, input any, opts ...ndb.WriteOption) (*ndb.WriteResult, error)
	switch mode {
	case "create":
		write = db.Create
	case "update":
		write = db.Update
	case "put":
		write = db.Put
	case "set":
		write = db.Set
	default:
		return fmt.Errorf("invalid mode %s", mode)
	}
	res, err := write(ctx, typ, input, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	slog.InfoContext(ctx, "Imported", "file", path, "type", typ, "records", len(res.Keys))
	return nil
}

func readInput(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var input any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &input)
	default:
		err = json.Unmarshal(data, &input)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return input, nil
}

// watchFile calls run whenever path is written, until ctx is done. Import
// errors are logged and watching continues.
func watchFile(ctx context.Context, path string, run func(ctx context.Context) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	// Editors often replace the file, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	name := filepath.Clean(path)
	slog.InfoContext(ctx, "Watching for changes", "file", path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := run(ctx); err != nil {
					slog.WarnContext(ctx, "Import failed", "err", err)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching file", "err", err)
		}
	}
}
