package main

import (
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/terrama2/services/pkg/protocol"
	"github.com/terrama2/services/pkg/registry"
)

// Send the entities of each file argument with signal.
func configCommand(use, short string, signal protocol.Signal) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [file...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fs := afero.NewOsFs()

			for _, path := range args {
				seed, err := registry.ReadSeed(fs, path)
				if err != nil {
					log.Fatal(err)
				}

				call(signal, &protocol.ConfigRequest{Entities: seed.Entities}, nil)
				if !configData.Json {
					fmt.Printf("%s: %d entities ok\n", path, len(seed.Entities))
				}
			}
		},
	}
}

var removeCmd = &cobra.Command{
	Use:   "remove [kind] [id...]",
	Short: "Remove entities",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		request := &protocol.RemoveRequest{}
		for _, arg := range args[1:] {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				log.Fatalf("Invalid id: %s", arg)
			}
			request.Entities = append(request.Entities, registry.Key{Kind: registry.Kind(args[0]), Id: id})
		}

		call(protocol.RemoveConfig, request, nil)
		printOk()
	},
}

func init() {
	rootCmd.AddCommand(configCommand("add", "Add entities from YAML or JSON files", protocol.AddConfig))
	rootCmd.AddCommand(configCommand("update", "Replace entities from YAML or JSON files", protocol.UpdateConfig))
	rootCmd.AddCommand(configCommand("validate", "Validate entities without applying them", protocol.ValidateConfig))
	rootCmd.AddCommand(removeCmd)
}
