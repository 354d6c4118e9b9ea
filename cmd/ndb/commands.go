package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andreyvit/ndb"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get <type> <key>",
		Short: "Print one record as a graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, _ := cmd.Flags().GetInt("depth")
			raw, _ := cmd.Flags().GetBool("raw")
			return withDB(func(db *ndb.DB) error {
				if raw {
					rec, err := db.Record(cmd.Context(), args[0], parseKey(args[1]))
					if err != nil {
						return err
					}
					return printJSON(rec)
				}
				obj, err := db.Query(args[0]).Keys(parseKey(args[1])).Depth(depth).Single(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(obj)
			})
		},
	}

	listCmd = &cobra.Command{
		Use:   "list <type>",
		Short: "Print a page of records as graphs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildQuery(cmd, args[0])
			if err != nil {
				return err
			}
			return withDB(func(db *ndb.DB) error {
				res, err := q(db).List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}

	countCmd = &cobra.Command{
		Use:   "count <type>",
		Short: "Print the number of records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildQuery(cmd, args[0])
			if err != nil {
				return err
			}
			return withDB(func(db *ndb.DB) error {
				n, err := q(db).Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}

	removeCmd = &cobra.Command{
		Use:   "remove <type> <key>...",
		Short: "Remove records, cascading along relations marked for it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *ndb.DB) error {
				for _, k := range args[1:] {
					if err := db.Remove(cmd.Context(), args[0], parseKey(k)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear [type]...",
		Short: "Delete every record of the given types (all types if none)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *ndb.DB) error {
				return db.Clear(cmd.Context(), args...)
			})
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print every record of every type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *ndb.DB) error {
				return db.Read(cmd.Context(), func(tx *ndb.Tx) error {
					fmt.Print(tx.Dump(ndb.DumpAll))
					return nil
				})
			})
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print per-type statistics and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *ndb.DB) error {
				stats, err := db.Stats(cmd.Context())
				if err != nil {
					return err
				}
				for _, typ := range append(db.Schema().Types(), ndb.HistoryType) {
					s := stats[typ]
					fmt.Printf("%-20s %8d records %10d bytes\n", typ, s.Records, s.DataSize)
				}
				fmt.Println()
				db.WriteMetrics(os.Stdout)
				return nil
			})
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Print the audit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f ndb.HistoryFilter
			f.Type, _ = cmd.Flags().GetString("type")
			if key, _ := cmd.Flags().GetString("key"); key != "" {
				f.Key = parseKey(key)
			}
			if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
				f.From = time.Now().Add(-since)
			}
			return withDB(func(db *ndb.DB) error {
				entries, err := db.History().Entries(cmd.Context(), f)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Printf("%d %s %s %s %v\n", e.Seq, e.Time.Format(time.RFC3339), e.Kind, e.Type, e.Key)
				}
				return nil
			})
		},
	}
)

func init() {
	getCmd.Flags().Int("depth", 1, wrapString("relation levels to expand"))
	getCmd.Flags().Bool("raw", false, wrapString("print the stored flat record with reverse references"))

	for _, cmd := range []*cobra.Command{listCmd, countCmd} {
		cmd.Flags().StringSlice("key", nil, wrapString("restrict to the given keys"))
		cmd.Flags().String("parent", "", wrapString("read the relation field of a record, as type/key.field"))
		cmd.Flags().StringSlice("where", nil, wrapString("keep records whose field equals a value, as field=value"))
	}
	listCmd.Flags().StringSlice("order", nil, wrapString("order by a field path, as field or field:desc"))
	listCmd.Flags().Int("offset", 0, wrapString("matches to skip"))
	listCmd.Flags().Int("limit", 0, wrapString("maximum number of items (0 for all)"))
	listCmd.Flags().Int("depth", 1, wrapString("relation levels to expand"))

	historyCmd.Flags().String("type", "", wrapString("only entries of this type"))
	historyCmd.Flags().String("key", "", wrapString("only entries of this key"))
	historyCmd.Flags().Duration("since", 0, wrapString("only entries newer than this"))
}

func buildQuery(cmd *cobra.Command, typ string) (func(db *ndb.DB) *ndb.Query, error) {
	keys, _ := cmd.Flags().GetStringSlice("key")
	parent, _ := cmd.Flags().GetString("parent")
	where, _ := cmd.Flags().GetStringSlice("where")

	var p *ndb.Parent
	if parent != "" {
		var err error
		p, err = parseParent(parent)
		if err != nil {
			return nil, err
		}
	}
	conds := make(map[string]string)
	for _, w := range where {
		field, value, ok := strings.Cut(w, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --where %q, expected field=value", w)
		}
		conds[field] = value
	}

	return func(db *ndb.DB) *ndb.Query {
		q := db.Query(typ)
		if len(keys) > 0 {
			ks := make([]any, len(keys))
			for i, k := range keys {
				ks[i] = parseKey(k)
			}
			q = q.Keys(ks...)
		}
		if p != nil {
			q = q.Parent(*p)
		}
		if len(conds) > 0 {
			q = q.Where(func(rec ndb.Record) bool {
				for field, value := range conds {
					if fmt.Sprint(rec[field]) != value {
						return false
					}
				}
				return true
			})
		}
		if f := cmd.Flags().Lookup("order"); f != nil {
			orders, _ := cmd.Flags().GetStringSlice("order")
			for _, o := range orders {
				field, dir, _ := strings.Cut(o, ":")
				if dir == "desc" {
					q = q.OrderBy(field, ndb.Desc)
				} else {
					q = q.OrderBy(field, ndb.Asc)
				}
			}
			offset, _ := cmd.Flags().GetInt("offset")
			limit, _ := cmd.Flags().GetInt("limit")
			depth, _ := cmd.Flags().GetInt("depth")
			q = q.Offset(offset).Limit(limit).Depth(depth)
		}
		return q
	}, nil
}

// parseKey treats decimal integers as integer keys.
func parseKey(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

func parseParent(s string) (*ndb.Parent, error) {
	typ, rest, ok := strings.Cut(s, "/")
	if !ok {
		return nil, fmt.Errorf("invalid parent %q, expected type/key.field", s)
	}
	i := strings.LastIndexByte(rest, '.')
	if i < 0 {
		return nil, fmt.Errorf("invalid parent %q, expected type/key.field", s)
	}
	return &ndb.Parent{Type: typ, Key: parseKey(rest[:i]), Field: rest[i+1:]}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
