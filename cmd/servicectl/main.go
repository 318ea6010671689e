package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/terrama2/services/pkg/utils"
)

type ControlConfig struct {
	// Control address of the service, tcp://host:port
	ServiceUri string `mapstructure:"service_uri"`
	// Emit raw JSON instead of text
	Json bool `mapstructure:"json"`
}

var configData = ControlConfig{}

var rootCmd = &cobra.Command{
	Use:   "servicectl",
	Short: "TerraMA2 service control command",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetConfigName("servicectl.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/terrama2/")
		viper.AddConfigPath("$HOME/.config/terrama2")
		viper.AddConfigPath(".")
		viper.ReadInConfig()

		viper.SetEnvPrefix("terrama2")
		viper.AutomaticEnv()

		if err := utils.UnmarshalConfig(viper.GetViper(), &configData); err != nil {
			log.Fatal(err)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringP("service-uri", "s", "tcp://localhost:30000", "Service control URI")
	rootCmd.PersistentFlags().Bool("json", false, "Print replies as JSON")
	viper.BindPFlag("service_uri", rootCmd.PersistentFlags().Lookup("service-uri"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
