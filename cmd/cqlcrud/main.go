// Command cqlcrud is a small operational shell over the data-access layer:
// inspect tables, run ad-hoc CRUD calls and raw CQL against a keyspace.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datalayerhq/cqlcrud/pkg/cqlcrud"
)

var (
	configFile  string
	keyspace    string
	consistency string
	verbose     bool

	client *cqlcrud.Client
)

var rootCmd = &cobra.Command{
	Use:           "cqlcrud",
	Short:         "Schema-aware CRUD shell for Cassandra",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := cqlcrud.DefaultConfig()
		if configFile != "" {
			loaded, err := cqlcrud.LoadConfig(configFile)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if keyspace != "" {
			cfg.Keyspace = keyspace
		}
		if consistency != "" {
			cfg.Consistency = consistency
		}
		if verbose {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			cfg.Logger = log
		}

		var err error
		client, err = cqlcrud.Open(cmd.Context(), cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if client != nil {
			client.Close()
		}
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables in the keyspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		tables, err := client.ListTables(cmd.Context())
		if err != nil {
			return err
		}
		for _, table := range tables {
			fmt.Println(table)
		}
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <table>",
	Short: "Show a table's columns in canonical order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		columns, err := client.DescribeTable(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, column := range columns {
			fmt.Println(column)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <table> [column=value ...]",
	Short: "Read rows matching the conditions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conditions, err := parsePairs(args[1:])
		if err != nil {
			return err
		}
		var opts []cqlcrud.ReadOption
		if columns, _ := cmd.Flags().GetStringSlice("columns"); len(columns) > 0 {
			opts = append(opts, cqlcrud.WithColumns(columns...))
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			opts = append(opts, cqlcrud.WithLimit(limit))
		}
		return printRows(cmd.Context(), args[0], conditions, opts)
	},
}

var putCmd = &cobra.Command{
	Use:   "put <table> column=value [column=value ...]",
	Short: "Insert or overwrite one record",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		record, err := parsePairs(args[1:])
		if err != nil {
			return err
		}
		return client.Create(cmd.Context(), args[0], record)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <table> column=value [column=value ...]",
	Short: "Delete rows matching the conditions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conditions, err := parsePairs(args[1:])
		if err != nil {
			return err
		}
		return client.Delete(cmd.Context(), args[0], conditions)
	},
}

var truncateCmd = &cobra.Command{
	Use:   "truncate <table>",
	Short: "Remove every row from a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return client.TruncateTable(cmd.Context(), args[0])
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <cql>",
	Short: "Run raw CQL and print the rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := client.ExecuteRaw(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return dumpRows(rows)
	},
}

func printRows(ctx context.Context, table string, conditions map[string]interface{}, opts []cqlcrud.ReadOption) error {
	rows, err := client.Read(ctx, table, conditions, opts...)
	if err != nil {
		return err
	}
	return dumpRows(rows)
}

func dumpRows(rows cqlcrud.Rows) error {
	encoder := json.NewEncoder(os.Stdout)
	for {
		row, ok := rows.Next()
		if !ok {
			break
		}
		if err := encoder.Encode(row); err != nil {
			rows.Close()
			return err
		}
	}
	return rows.Close()
}

// parsePairs turns "column=value" arguments into a record. Values that
// parse as integers, floats or booleans are typed as such; everything else
// stays a string.
func parsePairs(args []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for _, arg := range args {
		column, raw, ok := strings.Cut(arg, "=")
		if !ok || column == "" {
			return nil, fmt.Errorf("expected column=value, got %q", arg)
		}
		out[column] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) interface{} {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&keyspace, "keyspace", "k", "", "keyspace to operate on")
	rootCmd.PersistentFlags().StringVar(&consistency, "consistency", "", "default consistency level")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log connection and retry activity")

	getCmd.Flags().StringSlice("columns", nil, "project only these columns")
	getCmd.Flags().Int("limit", 0, "cap the number of rows returned")

	rootCmd.AddCommand(tablesCmd, describeCmd, getCmd, putCmd, deleteCmd, truncateCmd, execCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
