package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "deskpilot"}

	root.AddCommand(serveCMD(), migrateCMD(), indexCMD())
	_ = root.Execute()
}
