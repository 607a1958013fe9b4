package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "kettlectl",
	Short: "Kettlectl is a command line tool for operating Pentaho jobs through kettleplane",
	Long: `kettlectl is the command-line interface for kettleplane, the control plane in front of a
Pentaho Carte server and its repository.

kettleplane browses the repository catalog, dispatches jobs and transformations to Carte,
watches them to completion, stops live processes by short id, keeps a versioned history of
TableInput SQL edits and runs time-based schedules.

Common workflows:

  Browse the repository:
    kettlectl tree
    kettlectl tree 12
    kettlectl search sales

  Run a job and check on it:
    kettlectl run load_sales --dir 12 --kind job
    kettlectl status <id> --name load_sales --kind job

  List and stop live work:
    kettlectl ps
    kettlectl stop 3f9e2c1a

  Edit a step's SQL:
    kettlectl sql show stage_sales
    kettlectl sql edit stage_sales "read orders" --file orders.sql
    kettlectl sql history stage_sales "read orders"

  Schedule a job:
    kettlectl schedule add load_sales --dir 12 --daily 02:30
    kettlectl schedule ls -o yaml > schedules.yaml

Configuration:
  Set the API endpoint and credentials via flags, environment variables or a config file:
    KETTLEPLANE_URL       API endpoint (default: http://localhost:6161)
    KETTLEPLANE_TOKEN     API bearer token, if the controller requires one
    KETTLEPLANE_OPERATOR  Operator id recorded in the audit log (required for changes)`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".kettlectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".kettlectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "KETTLEPLANE_VARNAME"
	viper.SetEnvPrefix("KETTLEPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// requireOperator reports whether an operator id is configured, printing a
// hint when it is not. Every command that changes state needs one.
func requireOperator(cmd *cobra.Command) bool {
	if viper.GetString("operator") == "" {
		cmd.Println("Operator ID not found. Please set it using the --operator flag or the KETTLEPLANE_OPERATOR environment variable")
		return false
	}
	return true
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kettlectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "kettleplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().String("operator", "", "operator id recorded in the audit log")
	viper.BindPFlag("operator", rootCmd.PersistentFlags().Lookup("operator"))

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
}
