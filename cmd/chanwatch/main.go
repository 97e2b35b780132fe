package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chanwatch",
		Short:         "Track audience growth of public messaging channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(addCmd())
	root.AddCommand(removeCmd())
	root.AddCommand(listCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(samplesCmd())
	root.AddCommand(resetCmd())
	root.AddCommand(categoryCmd())
	root.AddCommand(adminCmd())
	root.AddCommand(notificationCmd())

	return root
}

func runCmd() *cobra.Command {
	var (
		port     int
		noServer bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the monitoring worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(port, noServer)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP API port (default: from config)")
	cmd.Flags().BoolVar(&noServer, "no-server", false, "do not start the HTTP API")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API without the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func checkCmd() *cobra.Command {
	var requestedBy int64

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ask the worker for an immediate cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(requestedBy)
		},
	}

	cmd.Flags().Int64Var(&requestedBy, "requested-by", 0, "user id credited in the completion record")
	return cmd
}

func addCmd() *cobra.Command {
	var (
		category string
		title    string
		addedBy  int64
	)

	cmd := &cobra.Command{
		Use:   "add <@handle|invite-link>",
		Short: "Track a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(args[0], category, title, addedBy)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "category to file the channel under")
	cmd.Flags().StringVar(&title, "title", "", "display title until the platform reports one")
	cmd.Flags().Int64Var(&addedBy, "added-by", 0, "operator user id")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id|@handle>",
		Short: "Stop tracking a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(args[0])
		},
	}
}

func listCmd() *cobra.Command {
	var (
		all        bool
		category   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(all, category, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include removed channels")
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func statsCmd() *cobra.Command {
	var (
		category string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the latest audience of every active channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(category, format)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().StringVar(&format, "format", "text", "text, json or csv")
	return cmd
}

func samplesCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "samples <id|@handle>",
		Short: "Show the sample history of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSamples(args[0], limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max samples to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id|@handle|all>",
		Short: "Zero the change fields of the latest sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(args[0])
		},
	}
}

func categoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage channel categories",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Create a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategoryAdd(args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a category and uncategorize its channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategoryDelete(args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <id|@handle> <name>",
		Short: "Move a channel to a category (empty name clears it)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategorySet(args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories with their channel counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategoryList()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Create categories referenced by channels but missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategorySync()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete categories without active channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategoryCleanup()
		},
	})
	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage operators",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <user-id> [username]",
		Short: "Register an operator",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := ""
			if len(args) > 1 {
				username = args[1]
			}
			return runAdminAdd(args[0], username)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check <user-id>",
		Short: "Report whether a user is an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCheck(args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList()
		},
	})
	return cmd
}

func notificationCmd() *cobra.Command {
	var consume bool

	cmd := &cobra.Command{
		Use:   "notification",
		Short: "Show the completion record of the last cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotification(consume)
		},
	}

	cmd.Flags().BoolVar(&consume, "consume", false, "delete the record after reading it")
	return cmd
}
