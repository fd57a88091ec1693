package main

import (
	"fmt"

	"github.com/pteprep/livevoice/pkg/audio/capture"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := capture.ListDevices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No capture devices found")
			return nil
		}
		for _, d := range devices {
			mark := " "
			if d.IsDefault {
				mark = "*"
			}
			fmt.Printf("%s %s\n", mark, d.Name)
		}
		return nil
	},
}
