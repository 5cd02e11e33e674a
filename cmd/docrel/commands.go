package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/backend/sqldb"
	"github.com/jacentio/docrel/store"
	"github.com/jacentio/docrel/stream"
	"github.com/jacentio/docrel/transform"
)

const defaultConfigPath = "docrel.toml"

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "docrel",
		Short:         "Store documents across relational tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to the TOML config file")

	// withApp opens the app for a command and closes it afterwards.
	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return run(cmd, a, args)
		}
	}

	cmd.AddCommand(
		newDDLCmd(withApp),
		newDescribeCmd(withApp),
		newUpsertCmd(withApp),
		newGetCmd(withApp),
		newDeleteCmd(withApp),
		newStreamCmd(withApp),
	)
	return cmd
}

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func newDDLCmd(withApp appRunner) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print or apply the table definitions of the schema",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if apply {
				if err := a.createTables(cmd.Context()); err != nil {
					return err
				}
				a.logger.Info("tables ready", "backend", a.cfg.Backend, "tables", len(a.registry.Tables()))
				return nil
			}
			out := cmd.OutOrStdout()
			if a.sql == nil {
				for _, t := range a.registry.Tables() {
					fmt.Fprintln(out, a.dynamo.TableName(t.Name))
				}
				return nil
			}
			dialect, err := sqldb.DialectFor(a.cfg.Backend)
			if err != nil {
				return err
			}
			for _, stmt := range sqldb.DDL(dialect, a.registry) {
				fmt.Fprintln(out, stmt+";")
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Create missing tables instead of printing them")
	return cmd
}

func newDescribeCmd(withApp appRunner) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "describe <collection>",
		Short: "Print the tables and read descriptor of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			layout, err := a.registry.Layout(args[0])
			if err != nil {
				return err
			}
			desc, err := a.store.BuildReadDescriptor(args[0], depth)
			if err != nil {
				return err
			}
			type column struct {
				Name    string `json:"name"`
				Type    string `json:"type"`
				Unique  bool   `json:"unique,omitempty"`
				NotNull bool   `json:"notNull,omitempty"`
			}
			type table struct {
				Name   string   `json:"name"`
				Kind   string   `json:"kind"`
				Parent string   `json:"parent,omitempty"`
				Column []column `json:"columns"`
			}
			var tables []table
			for _, t := range a.registry.Tables() {
				if t.ID.Base != layout.Base.Name {
					continue
				}
				tt := table{Name: t.Name, Kind: t.ID.Kind.String(), Parent: t.ParentTable}
				for _, c := range t.Columns {
					tt.Column = append(tt.Column, column{Name: c.Name, Type: c.Type.String(), Unique: c.Unique, NotNull: c.NotNull})
				}
				tables = append(tables, tt)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"collection": args[0],
				"tables":     tables,
				"read":       desc,
			})
		}),
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "Relationship population depth")
	return cmd
}

func newUpsertCmd(withApp appRunner) *cobra.Command {
	var (
		id     string
		update bool
		target []string
		where  map[string]string
		file   string
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "upsert <collection>",
		Short: "Create or update a document read as JSON from --file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			data, err := readDocument(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			in := store.UpsertInput{
				ID:           id,
				Operation:    store.OpCreate,
				Collection:   args[0],
				Data:         data,
				UpsertTarget: target,
				Depth:        depth,
			}
			if update {
				in.Operation = store.OpUpdate
			}
			for col, v := range where {
				in.Where = append(in.Where, backend.Eq(col, v))
			}
			doc, err := a.store.Upsert(cmd.Context(), in)
			if errors.Is(err, store.ErrConflictNotUpdated) {
				return fmt.Errorf("%w: the where condition did not match", err)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		}),
	}
	cmd.Flags().StringVar(&id, "id", "", "Document id")
	cmd.Flags().BoolVar(&update, "update", false, "Update the document, replacing its dependent rows")
	cmd.Flags().StringSliceVar(&target, "target", nil, "Id or unique base column identifying the document to update")
	cmd.Flags().StringToStringVar(&where, "where", nil, "Column values the updated document must have")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the document from a file instead of stdin")
	cmd.Flags().IntVar(&depth, "depth", 0, "Relationship population depth of the returned document")
	return cmd
}

func newGetCmd(withApp appRunner) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print a document",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			doc, err := a.store.Find(cmd.Context(), args[0], args[1], depth)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		}),
	}
	cmd.Flags().IntVar(&depth, "depth", -1, "Relationship population depth; negative uses store.read_depth")
	return cmd
}

func newDeleteCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a document and every row it owns",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.store.Delete(cmd.Context(), args[0], args[1])
		}),
	}
}

func newStreamCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Run the DynamoDB stream cascade handler as a Lambda function",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ *cobra.Command, a *app, _ []string) error {
			if a.dynamo == nil {
				return fmt.Errorf("stream requires the dynamo backend, not %s", a.cfg.Backend)
			}
			lambda.Start(stream.NewHandler(a.dynamo, a.logger).HandleCascadeDelete)
			return nil
		}),
	}
}

func readDocument(stdin io.Reader, file string) (transform.Document, error) {
	r := stdin
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var doc transform.Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, errors.New("decode document: expected an object")
	}
	return doc, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
