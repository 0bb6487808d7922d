package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "txdemo",
		Short: "Replays transaction propagation scenarios against a sqlite database",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path of the toml config file")

	for _, s := range scenarios {
		rootCmd.AddCommand(&cobra.Command{
			Use:   s.name,
			Short: s.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := newEnv(cmd.Context(), configPath)
				if err != nil {
					return err
				}
				defer env.close()
				return env.run(cmd.Context(), s)
			},
		})
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Runs every scenario in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnv(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer env.close()
			for _, s := range scenarios {
				if err := env.run(cmd.Context(), s); err != nil {
					return err
				}
			}
			return nil
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
