package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msto63/wake/internal/voice/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Listet die Aufnahmegeräte",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := audio.ListInputDevices()
		if err != nil {
			printError("Geräte konnten nicht gelesen werden", err)
			return err
		}
		if len(devices) == 0 {
			fmt.Println("Keine Aufnahmegeräte gefunden.")
			return nil
		}
		for _, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Printf("%s %-40s %d Kanäle, %.0f Hz\n", marker, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
		}
		fmt.Println("\nName als voice.input_device in die Config übernehmen.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
