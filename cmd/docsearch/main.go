package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liliang-cn/docsearch/pkg/core"
	"github.com/liliang-cn/docsearch/pkg/docsearch"
)

var (
	databaseURL string
	collection  string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "docsearch",
	Short: "CLI tool for document collection search",
	Long:  `A command-line interface for indexing and searching document collections backed by SQLite or PostgreSQL.`,
}

var addCmd = &cobra.Command{
	Use:   "add <content>...",
	Short: "Add or update documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idsFlag, _ := cmd.Flags().GetStringSlice("id")
		metadataStr, _ := cmd.Flags().GetString("metadata")

		var metadatas []map[string]any
		if metadataStr != "" {
			var metadata map[string]any
			if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
				return fmt.Errorf("invalid metadata JSON: %w", err)
			}
			metadatas = make([]map[string]any, len(args))
			for i := range metadatas {
				metadatas[i] = metadata
			}
		}

		var ids []string
		if len(idsFlag) > 0 {
			if len(idsFlag) != len(args) {
				return fmt.Errorf("got %d ids for %d documents", len(idsFlag), len(args))
			}
			ids = idsFlag
		}

		coll, cleanup, err := openCollection()
		if err != nil {
			return err
		}
		defer cleanup()

		added, err := coll.Add(context.Background(), args, ids, metadatas)
		if err != nil {
			return fmt.Errorf("failed to add documents: %w", err)
		}
		for _, id := range added {
			fmt.Println(id)
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search documents by text",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		orderBy, _ := cmd.Flags().GetStringSlice("order-by")
		whereStr, _ := cmd.Flags().GetString("where")

		var where map[string]any
		if whereStr != "" {
			if err := json.Unmarshal([]byte(whereStr), &where); err != nil {
				return fmt.Errorf("invalid where JSON: %w", err)
			}
		}

		text := ""
		if len(args) == 1 {
			text = args[0]
		}

		coll, cleanup, err := openCollection()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := coll.Query(context.Background(), text, core.QueryOptions{
			Limit:   limit,
			Offset:  offset,
			Where:   where,
			OrderBy: orderBy,
		})
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}

		fmt.Printf("total: %d\n", res.Total)
		for _, doc := range res.Results {
			line := doc.ID + "\t" + strings.ReplaceAll(doc.Content, "\n", " ")
			if verbose && doc.Metadata != nil {
				meta, _ := json.Marshal(doc.Metadata)
				line += "\t" + string(meta)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete documents by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coll, cleanup, err := openCollection()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := coll.Delete(context.Background(), args); err != nil {
			return fmt.Errorf("failed to delete documents: %w", err)
		}
		fmt.Printf("deleted %d document(s)\n", len(args))
		return nil
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every document in the collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		coll, cleanup, err := openCollection()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := coll.DeleteAll(context.Background()); err != nil {
			return fmt.Errorf("failed to delete collection contents: %w", err)
		}
		fmt.Println("collection emptied")
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count documents in the collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		coll, cleanup, err := openCollection()
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := coll.Count(context.Background())
		if err != nil {
			return fmt.Errorf("failed to count documents: %w", err)
		}
		fmt.Println(n)
		return nil
	},
}

func openCollection() (*core.Collection, func(), error) {
	opts := []docsearch.Option{}
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, docsearch.WithLogger(logger))
	}

	db, err := docsearch.Open(databaseURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	coll, err := db.Collection(context.Background(), collection)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to open collection: %w", err)
	}
	return coll, func() { _ = db.Close() }, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "db", "", "database URL (empty for embedded default, sqlite:///path, or a server URL)")
	rootCmd.PersistentFlags().StringVarP(&collection, "collection", "c", "default", "collection name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	addCmd.Flags().StringSlice("id", nil, "explicit document ids (one per content)")
	addCmd.Flags().String("metadata", "", "metadata JSON object applied to every added document")

	queryCmd.Flags().Int("limit", 0, "maximum number of results (0 for unlimited)")
	queryCmd.Flags().Int("offset", 0, "number of results to skip")
	queryCmd.Flags().StringSlice("order-by", nil, "metadata keys to order by (prefix with - for descending)")
	queryCmd.Flags().String("where", "", "metadata filter JSON object")

	rootCmd.AddCommand(addCmd, queryCmd, deleteCmd, deleteAllCmd, countCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
