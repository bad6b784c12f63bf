// Command warren is a thin CLI over the warren client core: it opens the
// engine at a data directory, runs one operation, and exits.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/warrendb/warren"
	"github.com/warrendb/warren/engine"
)

var (
	dataDir    string
	nsID       uint64
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "warren",
	Short:         "warren embedded database CLI",
	Long:          "warren manages an embedded multi-tenant database instance rooted at a data directory.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return nil
		}
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("dir") && cfg.Dir != "" {
			dataDir = cfg.Dir
		}
		if !cmd.Flags().Changed("ns") {
			nsID = cfg.Namespace
		}
		return nil
	},
}

var createNSCmd = &cobra.Command{
	Use:   "create-ns",
	Short: "Create a new namespace and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *warren.Engine) error {
			ns, err := e.CreateNamespace()
			if err != nil {
				return err
			}
			fmt.Println(ns.ID())
			return nil
		})
	},
}

var alterCmd = &cobra.Command{
	Use:   "alter <schema-file>",
	Short: "Apply a schema definition to a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return withNamespace(func(ns *warren.Namespace) error {
			return ns.AlterSchema(string(schema))
		})
	},
}

var mutateCmd = &cobra.Command{
	Use:   "mutate <request>",
	Short: "Apply a mutation request and print assigned ids",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNamespace(func(ns *warren.Namespace) error {
			res, err := ns.Mutate(args[0])
			if err != nil {
				return err
			}
			for ref, uid := range res {
				fmt.Printf("%s\t%s\n", ref, "0x"+strconv.FormatUint(uid, 16))
			}
			return nil
		})
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <request>",
	Short: "Run a query and print the raw response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNamespace(func(ns *warren.Namespace) error {
			resp, err := ns.Query(args[0])
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		})
	},
}

var dropDataCmd = &cobra.Command{
	Use:   "drop-data",
	Short: "Delete all data in a namespace, keeping its schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNamespace((*warren.Namespace).DropData)
	},
}

var dropAllCmd = &cobra.Command{
	Use:   "drop-all",
	Short: "Destroy all namespaces and data in the instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine((*warren.Engine).DropAll)
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <schema-file> <data-file>",
	Short: "Bulk-load a schema and a data file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *warren.Engine) error {
			return e.Load(args[0], args[1])
		})
	},
}

var loadDataCmd = &cobra.Command{
	Use:   "load-data <dir>",
	Short: "Bulk-load every data file in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *warren.Engine) error {
			return e.LoadData(args[0])
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-namespace storage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dataDir == "" {
			return fmt.Errorf("data directory is required (--dir or config file)")
		}
		db, err := engine.Open(dataDir, engine.Options{})
		if err != nil {
			return err
		}
		defer db.Close()
		stats, err := db.Stats()
		if err != nil {
			return err
		}
		for _, ns := range stats.Namespaces {
			fmt.Printf("ns %d: %d entities, %d predicates, %d posting rows, %d bytes (%d allocated)\n",
				ns.ID, ns.Entities, ns.Predicates, ns.PostingRows, ns.TotalSize(), ns.TotalAlloc())
		}
		return nil
	},
}

func withEngine(f func(*warren.Engine) error) error {
	if dataDir == "" {
		return fmt.Errorf("data directory is required (--dir or config file)")
	}
	e, err := warren.Open(dataDir, warren.Options{})
	if err != nil {
		return err
	}
	defer e.Close()
	return f(e)
}

func withNamespace(f func(*warren.Namespace) error) error {
	return withEngine(func(e *warren.Engine) error {
		ns, err := e.GetNamespace(nsID)
		if err != nil {
			return err
		}
		return f(ns)
	})
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", "", "data directory")
	rootCmd.PersistentFlags().Uint64Var(&nsID, "ns", 0, "namespace id")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	rootCmd.AddCommand(createNSCmd)
	rootCmd.AddCommand(alterCmd)
	rootCmd.AddCommand(mutateCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(dropDataCmd)
	rootCmd.AddCommand(dropAllCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(loadDataCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
